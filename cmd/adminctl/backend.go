package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/viper"

	"github.com/jacentio/reflink/integrity"
	"github.com/jacentio/reflink/store"
)

// documentStore is everything the commands need from a backend.
type documentStore interface {
	integrity.Store
	QueryPage(ctx context.Context, q store.PageQuery) ([]*store.Document, error)
	Put(ctx context.Context, doc *store.Document) error
}

// backend is an opened document store and its release func.
type backend struct {
	documentStore
	close func() error
}

func (b *backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// openBackend opens the store selected by the "backend" key.
func openBackend(ctx context.Context, v *viper.Viper) (*backend, error) {
	batchLimit := v.GetInt(cfgKeyBatchLimit)

	switch kind := v.GetString(cfgKeyBackend); kind {
	case backendMemory:
		return &backend{documentStore: store.NewMemoryStore(batchLimit)}, nil

	case backendSQLite:
		s, err := store.OpenSQLite(v.GetString(cfgKeySQLitePath), batchLimit)
		if err != nil {
			return nil, err
		}
		return &backend{documentStore: s, close: s.Close}, nil

	case backendDynamo:
		client, err := newDynamoClient(ctx, v)
		if err != nil {
			return nil, err
		}
		cfg := store.DefaultConfig()
		cfg.TablePrefix = v.GetString(cfgKeyTablePrefix)
		cfg.FieldIndexes = v.GetStringMapString(cfgKeyFieldIndexes)
		cfg.BatchLimit = batchLimit
		return &backend{documentStore: store.NewDynamoStore(client, cfg)}, nil

	default:
		return nil, fmt.Errorf("unknown backend %q (valid: %s, %s, %s)", kind, backendDynamo, backendSQLite, backendMemory)
	}
}

// newDynamoClient builds a DynamoDB client from the default AWS credential
// chain. A configured endpoint (DynamoDB Local) overrides the regional one.
func newDynamoClient(ctx context.Context, v *viper.Viper) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(v.GetString(cfgKeyRegion)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := v.GetString(cfgKeyEndpoint)
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}
