package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

type AzureConfig struct {
	ConnectionString string
	AccountURL       string
	Container        string
	Blob             string
	MaxRetries       int32
}

type AzureStore struct {
	client    *azblob.Client
	container string
	blob      string
}

// NewAzureStore authenticates with the connection string when one is given,
// otherwise with the default Azure credential chain against AccountURL.
func NewAzureStore(cfg AzureConfig) (*AzureStore, error) {
	if strings.TrimSpace(cfg.Container) == "" || strings.TrimSpace(cfg.Blob) == "" {
		return nil, errors.New("azure container and blob names are required")
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	options := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    retries,
				RetryDelay:    500 * time.Millisecond,
				MaxRetryDelay: 5 * time.Second,
			},
			Telemetry: policy.TelemetryOptions{ApplicationID: "ccmetrics"},
		},
	}

	var (
		client *azblob.Client
		err    error
	)
	switch {
	case strings.TrimSpace(cfg.ConnectionString) != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, options)
	case strings.TrimSpace(cfg.AccountURL) != "":
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("azure credential: %w", credErr)
		}
		client, err = azblob.NewClient(cfg.AccountURL, cred, options)
	default:
		return nil, errors.New("azure connection string or account url is required")
	}
	if err != nil {
		return nil, fmt.Errorf("azure blob client: %w", err)
	}

	return &AzureStore{client: client, container: cfg.Container, blob: cfg.Blob}, nil
}

func (s *AzureStore) Name() string {
	return s.blob
}

func (s *AzureStore) Download(ctx context.Context) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.blob, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, s.container, s.blob)
		}
		return nil, fmt.Errorf("download %s/%s: %w", s.container, s.blob, describe(err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", s.container, s.blob, err)
	}
	return data, nil
}

func (s *AzureStore) Upload(ctx context.Context, data []byte) error {
	if _, err := s.client.UploadBuffer(ctx, s.container, s.blob, data, nil); err != nil {
		return fmt.Errorf("upload %s/%s: %w", s.container, s.blob, describe(err))
	}
	return nil
}

// EnsureContainer creates the container when it does not exist yet.
func (s *AzureStore) EnsureContainer(ctx context.Context) error {
	_, err := s.client.CreateContainer(ctx, s.container, nil)
	if err == nil || bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil
	}
	return fmt.Errorf("create container %s: %w", s.container, describe(err))
}

func describe(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return fmt.Errorf("%s (%d %s): %w", respErr.ErrorCode, respErr.StatusCode, http.StatusText(respErr.StatusCode), err)
	}
	return err
}
