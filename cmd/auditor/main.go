// Package main runs the dangling-reference auditor as an AWS Lambda
// function subscribed to the entity tables' DynamoDB streams.
//
// Configuration comes from the environment:
//
//	AUDITOR_TABLE_PREFIX   table name prefix (e.g. "prod-")
//	AUDITOR_FIELD_INDEXES  comma-separated collection.field=index pairs
//	AUDITOR_ENDPOINT       DynamoDB endpoint override
//	AUDITOR_DEBUG          debug logging when true
package main

import (
	"context"
	"log"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jacentio/reflink/store"
	"github.com/jacentio/reflink/stream"
)

func main() {
	v := viper.New()
	v.SetEnvPrefix("AUDITOR")
	v.AutomaticEnv()

	logger, err := newLogger(v.GetBool("debug"))
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Fatal("load aws config", zap.Error(err))
	}

	endpoint := v.GetString("endpoint")
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	cfg := store.DefaultConfig()
	cfg.TablePrefix = v.GetString("table_prefix")
	cfg.FieldIndexes = parseIndexes(v.GetString("field_indexes"))

	handler := stream.NewHandlerFromStore(store.NewDynamoStore(client, cfg), cfg.TablePrefix, logger)
	lambda.Start(handler.HandleRemovals)
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}

// parseIndexes reads "challenges.avatar=avatar-index,..." into a map.
func parseIndexes(s string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		key, index, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && key != "" && index != "" {
			out[key] = index
		}
	}
	return out
}
