package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var ErrFailedToConnect = errors.New("failed to connect to mongo")

const (
	connectTimeout = 10 * time.Second
	retryAttempts  = 3
	retryInterval  = 2 * time.Second
)

// NewMongo connects to url and returns the named database once a ping succeeds.
func NewMongo(ctx context.Context, url string, database string) (*mongo.Client, *mongo.Database, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		client, err := mongo.Connect(
			options.Client().
				ApplyURI(url).
				SetConnectTimeout(connectTimeout).
				SetRetryWrites(true).
				SetRetryReads(true),
		)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			err = client.Ping(pingCtx, nil)
			cancel()
			if err == nil {
				return client, client.Database(database), nil
			}
			_ = client.Disconnect(context.Background())
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("%w: %v", ErrFailedToConnect, ctx.Err())
		case <-time.After(retryInterval):
		}
	}

	return nil, nil, fmt.Errorf("%w: %v", ErrFailedToConnect, lastErr)
}

// Healthcheck pings the server behind client.
func Healthcheck(client *mongo.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}
}
