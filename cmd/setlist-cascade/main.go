// Command setlist-cascade is the AWS Lambda function attached to the entity
// table's stream. It finishes soft deletes by expiring the rows a deleted
// entity leaves behind.
//
// Table names and the shard count are read from the environment:
//
//	SETLIST_ENTITY_TABLE
//	SETLIST_RELATIONSHIP_TABLE
//	SETLIST_UNIQUE_TABLE
//	SETLIST_NUM_SHARDS
//	SETLIST_LOG_LEVEL
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/jacentio/setlist/archive"
	"github.com/jacentio/setlist/store"
	"github.com/jacentio/setlist/stream"
)

func main() {
	h, err := newHandler(context.Background(), os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setlist-cascade: %v\n", err)
		os.Exit(1)
	}
	lambda.Start(h.HandleExpiry)
}

func newHandler(ctx context.Context, getenv func(string) string) (*stream.Handler, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(getenv("SETLIST_LOG_LEVEL"))}))

	cfg, err := storeConfig(getenv)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s := store.New(dynamodb.NewFromConfig(awsCfg), archive.NewSchema(), cfg)
	return stream.NewHandler(s, logger), nil
}

// storeConfig overlays the environment on store.DefaultConfig.
func storeConfig(getenv func(string) string) (store.Config, error) {
	cfg := store.DefaultConfig()
	if v := getenv("SETLIST_ENTITY_TABLE"); v != "" {
		cfg.EntityTable = v
	}
	if v := getenv("SETLIST_RELATIONSHIP_TABLE"); v != "" {
		cfg.RelationshipTable = v
	}
	if v := getenv("SETLIST_UNIQUE_TABLE"); v != "" {
		cfg.UniqueTable = v
	}
	if v := getenv("SETLIST_NUM_SHARDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("SETLIST_NUM_SHARDS: %w", err)
		}
		cfg.NumShards = n
	}
	return cfg, nil
}

func logLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
