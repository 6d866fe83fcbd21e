package publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// azureConnEnv is read when no connection string is configured.
const azureConnEnv = "AZURE_STORAGE_CONNECTION_STRING"

// Azure uploads to an Azure Blob Storage container.
type Azure struct {
	client *azblob.Client
	dest   Destination
}

func newAzure(dest Destination, opts Options) (*Azure, error) {
	conn := opts.AzureConnStr
	if conn == "" {
		conn = os.Getenv(azureConnEnv)
	}
	if conn == "" {
		return nil, fmt.Errorf("%w: azblob needs a connection string (set %s)", ErrDestination, azureConnEnv)
	}
	client, err := azblob.NewClientFromConnectionString(conn, nil)
	if err != nil {
		return nil, fmt.Errorf("create azblob client: %w", err)
	}
	return &Azure{client: client, dest: dest}, nil
}

func (p *Azure) Publish(ctx context.Context, name, localPath string) (string, error) {
	f, err := os.Open(filepath.Clean(localPath))
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	key := p.dest.Key(name)
	if _, err := p.client.UploadFile(ctx, p.dest.Bucket, key, f, nil); err != nil {
		return "", fmt.Errorf("azblob upload %s/%s: %w", p.dest.Bucket, key, err)
	}
	return "azblob://" + p.dest.Bucket + "/" + key, nil
}
