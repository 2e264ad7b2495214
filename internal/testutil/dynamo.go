package testutil

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type DynamoContainer struct {
	Client    *dynamodb.Client
	Endpoint  string
	Terminate func()
}

// Start DynamoDB Local in docker
// Client uses static credentials, DynamoDB Local accepts any
func StartDynamoContainer(t *testing.T) DynamoContainer {
	t.Helper()

	requireDocker(t)

	container, err := testcontainers.GenericContainer(t.Context(), testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "amazon/dynamodb-local:2.5.2",
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			ExposedPorts: []string{"8000/tcp"},
			WaitingFor:   wait.ForListeningPort("8000/tcp"),
		},
		Started: true,
	})
	require.NoError(t, err, "Error happened when starting container with dynamodb local")

	endpoint, err := container.PortEndpoint(t.Context(), "8000/tcp", "http")
	require.NoError(t, err, "Error happened when getting dynamodb local endpoint")
	t.Logf("Container with dynamodb started, endpoint=%v", endpoint)

	client := dynamodb.New(dynamodb.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(endpoint),
		Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
	})

	return DynamoContainer{
		Client:   client,
		Endpoint: endpoint,
		Terminate: func() {
			testcontainers.CleanupContainer(t, container)
		},
	}
}
