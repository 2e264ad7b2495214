package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nkiryanov/authcore/internal/apperrors"
	"github.com/nkiryanov/authcore/internal/models"
)

// Concurrent conditional updates when revoking all user tokens
const revokeConcurrency = 8

// Refresh token ledger on DynamoDB
// Every state change is a conditional write, so concurrent instances can't both revoke one token
type RefreshTokenRepo struct {
	client *dynamodb.Client
	table  string
}

func NewRefreshTokenRepo(client *dynamodb.Client, table string) *RefreshTokenRepo {
	return &RefreshTokenRepo{client: client, table: table}
}

// Times are stored as unix milliseconds to be comparable in condition expressions
type tokenItem struct {
	TokenHash     string `dynamodbav:"TokenHash"`
	ID            string `dynamodbav:"ID"`
	UserID        string `dynamodbav:"UserID"`
	CreatedAt     int64  `dynamodbav:"CreatedAt"`
	ExpiresAt     int64  `dynamodbav:"ExpiresAt"`
	RevokedAt     *int64 `dynamodbav:"RevokedAt,omitempty"`
	RevokedReason string `dynamodbav:"RevokedReason,omitempty"`
	UserAgent     string `dynamodbav:"UserAgent,omitempty"`
	IP            string `dynamodbav:"IP,omitempty"`

	// Unix seconds, DynamoDB removes item some time after
	TTL int64 `dynamodbav:"TTL"`
}

func toItem(t models.RefreshToken) tokenItem {
	item := tokenItem{
		TokenHash:     t.TokenHash,
		ID:            t.ID.String(),
		UserID:        t.UserID.String(),
		CreatedAt:     t.CreatedAt.UnixMilli(),
		ExpiresAt:     t.ExpiresAt.UnixMilli(),
		RevokedReason: t.RevokedReason,
		UserAgent:     t.UserAgent,
		IP:            t.IP,
		TTL:           t.ExpiresAt.Unix(),
	}
	if t.RevokedAt != nil {
		ms := t.RevokedAt.UnixMilli()
		item.RevokedAt = &ms
	}
	return item
}

func (i tokenItem) toModel() (models.RefreshToken, error) {
	id, err := uuid.Parse(i.ID)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("dynamodb error: bad token id: %w", err)
	}
	userID, err := uuid.Parse(i.UserID)
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("dynamodb error: bad user id: %w", err)
	}

	t := models.RefreshToken{
		ID:            id,
		TokenHash:     i.TokenHash,
		UserID:        userID,
		CreatedAt:     time.UnixMilli(i.CreatedAt),
		ExpiresAt:     time.UnixMilli(i.ExpiresAt),
		RevokedReason: i.RevokedReason,
		UserAgent:     i.UserAgent,
		IP:            i.IP,
	}
	if i.RevokedAt != nil {
		revokedAt := time.UnixMilli(*i.RevokedAt)
		t.RevokedAt = &revokedAt
	}
	return t, nil
}

func key(tokenHash string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrTokenHash: &types.AttributeValueMemberS{Value: tokenHash},
	}
}

func millis(t time.Time) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(t.UnixMilli(), 10)}
}

func (r *RefreshTokenRepo) Create(ctx context.Context, token models.RefreshToken) (models.RefreshToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}

	av, err := attributevalue.MarshalMap(toItem(token))
	if err != nil {
		return token, fmt.Errorf("dynamodb error: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(TokenHash)"),
	})

	var ccf *types.ConditionalCheckFailedException
	switch {
	case err == nil:
		return fromModel(token), nil
	case errors.As(err, &ccf):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	default:
		return token, fmt.Errorf("dynamodb error: %w", err)
	}
}

func (r *RefreshTokenRepo) Get(ctx context.Context, tokenHash string) (models.RefreshToken, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key(tokenHash),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("dynamodb error: %w", err)
	}
	if out.Item == nil {
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}

	return unmarshalToken(out.Item)
}

func (r *RefreshTokenRepo) Revoke(ctx context.Context, tokenHash string, reason string, at time.Time) (models.RefreshToken, error) {
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 key(tokenHash),
		UpdateExpression:    aws.String("SET RevokedAt = :at, RevokedReason = :reason"),
		ConditionExpression: aws.String("attribute_exists(TokenHash) AND attribute_not_exists(RevokedAt)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":     millis(at),
			":reason": &types.AttributeValueMemberS{Value: reason},
		},
		ReturnValues: types.ReturnValueAllNew,
	})

	var ccf *types.ConditionalCheckFailedException
	switch {
	case err == nil:
		return unmarshalToken(out.Attributes)
	case errors.As(err, &ccf):
		return r.explainMiss(ctx, tokenHash, at)
	default:
		return models.RefreshToken{}, fmt.Errorf("dynamodb error: %w", err)
	}
}

func (r *RefreshTokenRepo) IsValid(ctx context.Context, tokenHash string, now time.Time) (bool, error) {
	token, err := r.Get(ctx, tokenHash)
	switch {
	case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
		return false, nil
	case err != nil:
		return false, err
	default:
		return token.Valid(now), nil
	}
}

// RevokeAllForUser revokes tokens found by user index
// Index is eventually consistent: token created right before the call may be missed,
// such tokens are rejected by user token version on refresh
func (r *RefreshTokenRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID, reason string, at time.Time) (int64, error) {
	paginator := dynamodb.NewQueryPaginator(r.client, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String(userIndexName),
		KeyConditionExpression: aws.String("UserID = :uid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uid": &types.AttributeValueMemberS{Value: userID.String()},
		},
	})

	var revoked atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(revokeConcurrency)

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			_ = g.Wait()
			return revoked.Load(), fmt.Errorf("dynamodb error: %w", err)
		}

		for _, item := range page.Items {
			hash, ok := item[attrTokenHash].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}

			g.Go(func() error {
				_, err := r.Revoke(gctx, hash.Value, reason, at)
				switch {
				case err == nil:
					revoked.Add(1)
					return nil
				case errors.Is(err, apperrors.ErrRefreshTokenRevoked), errors.Is(err, apperrors.ErrRefreshTokenNotFound):
					return nil
				default:
					return err
				}
			})
		}
	}

	err := g.Wait()
	return revoked.Load(), err
}

// Rotate revokes old token and puts next one in one transaction
// Old token must belong to next.UserID.
// Returned record is read before the transaction, nothing is read after commit
func (r *RefreshTokenRepo) Rotate(ctx context.Context, oldHash string, next models.RefreshToken, at time.Time) (models.RefreshToken, error) {
	if next.ID == uuid.Nil {
		next.ID = uuid.New()
	}

	old, err := r.Get(ctx, oldHash)
	if err != nil {
		return old, err
	}

	av, err := attributevalue.MarshalMap(toItem(next))
	if err != nil {
		return models.RefreshToken{}, fmt.Errorf("dynamodb error: %w", err)
	}

	_, err = r.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:        aws.String(r.table),
					Key:              key(oldHash),
					UpdateExpression: aws.String("SET RevokedAt = :at, RevokedReason = :reason"),
					ConditionExpression: aws.String(
						"attribute_exists(TokenHash) AND attribute_not_exists(RevokedAt) AND ExpiresAt > :at AND UserID = :uid",
					),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":at":     millis(at),
						":reason": &types.AttributeValueMemberS{Value: models.RevokeReasonRotation},
						":uid":    &types.AttributeValueMemberS{Value: next.UserID.String()},
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(r.table),
					Item:                av,
					ConditionExpression: aws.String("attribute_not_exists(TokenHash)"),
				},
			},
		},
	})

	var canceled *types.TransactionCanceledException
	switch {
	case err == nil:
		old.RevokedAt = &at
		old.RevokedReason = models.RevokeReasonRotation
		return old, nil
	case errors.As(err, &canceled):
		return r.explainCanceled(ctx, canceled, oldHash, at)
	default:
		return models.RefreshToken{}, fmt.Errorf("dynamodb error: %w", err)
	}
}

// DeleteExpired removes tokens native TTL has not removed yet
func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:            aws.String(r.table),
		FilterExpression:     aws.String("ExpiresAt < :before"),
		ProjectionExpression: aws.String(attrTokenHash),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":before": millis(before),
		},
	})

	var deleted int64
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return deleted, fmt.Errorf("dynamodb error: %w", err)
		}

		for _, item := range page.Items {
			_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
				TableName:           aws.String(r.table),
				Key:                 map[string]types.AttributeValue{attrTokenHash: item[attrTokenHash]},
				ConditionExpression: aws.String("ExpiresAt < :before"),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":before": millis(before),
				},
			})

			var ccf *types.ConditionalCheckFailedException
			switch {
			case err == nil:
				deleted++
			case errors.As(err, &ccf):
				// removed by TTL or concurrent sweep
			default:
				return deleted, fmt.Errorf("dynamodb error: %w", err)
			}
		}
	}

	return deleted, nil
}

func (r *RefreshTokenRepo) explainCanceled(ctx context.Context, e *types.TransactionCanceledException, oldHash string, at time.Time) (models.RefreshToken, error) {
	reasons := e.CancellationReasons
	code := func(i int) string {
		if i >= len(reasons) {
			return ""
		}
		return aws.ToString(reasons[i].Code)
	}

	switch {
	case code(1) == "ConditionalCheckFailed":
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExists)
	case code(0) == "ConditionalCheckFailed":
		return r.explainMiss(ctx, oldHash, at)
	case code(0) == "TransactionConflict":
		// Another request is rotating the same token right now
		return models.RefreshToken{}, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	default:
		return models.RefreshToken{}, fmt.Errorf("dynamodb error: %w", e)
	}
}

// Conditional write failed: find out why
func (r *RefreshTokenRepo) explainMiss(ctx context.Context, tokenHash string, at time.Time) (models.RefreshToken, error) {
	token, err := r.Get(ctx, tokenHash)
	switch {
	case err != nil:
		return token, err
	case token.Revoked():
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenRevoked)
	case !at.Before(token.ExpiresAt):
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenExpired)
	default:
		// Token owned by other user
		return token, fmt.Errorf("repo error: %w", apperrors.ErrRefreshTokenNotFound)
	}
}

func unmarshalToken(av map[string]types.AttributeValue) (models.RefreshToken, error) {
	var item tokenItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return models.RefreshToken{}, fmt.Errorf("dynamodb error: %w", err)
	}
	return item.toModel()
}

// Round times the way they are stored
func fromModel(t models.RefreshToken) models.RefreshToken {
	stored, err := toItem(t).toModel()
	if err != nil {
		return t
	}
	return stored
}
