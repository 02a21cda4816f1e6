// Config loading for the adminctl CLI.
package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	configFileName = "adminctl"
	configFileType = "yaml"
	envPrefix      = "ADMINCTL"

	cfgKeyBackend       = "backend"
	cfgKeySQLitePath    = "sqlite.path"
	cfgKeyRegion        = "dynamodb.region"
	cfgKeyEndpoint      = "dynamodb.endpoint"
	cfgKeyTablePrefix   = "dynamodb.table_prefix"
	cfgKeyFieldIndexes  = "dynamodb.field_indexes"
	cfgKeyBatchLimit    = "batch_limit"
	cfgKeyBatchRetries  = "batch_retries"
	cfgKeyRecheck       = "recheck_before_delete"
	cfgKeyPageSize      = "page_size"
	cfgKeyParallelCheck = "max_parallel_checks"

	backendDynamo = "dynamodb"
	backendSQLite = "sqlite"
	backendMemory = "memory"

	defaultPageSize = 25
)

// loadConfig reads adminctl.yaml from path, or from the working directory
// and $HOME/.config/adminctl when path is empty. ADMINCTL_* environment
// variables override file values (dynamodb.region becomes
// ADMINCTL_DYNAMODB_REGION). A missing config file is not an error.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetDefault(cfgKeyBackend, backendSQLite)
	v.SetDefault(cfgKeySQLitePath, "adminctl.db")
	v.SetDefault(cfgKeyRegion, "us-east-1")
	v.SetDefault(cfgKeyBatchLimit, 100)
	v.SetDefault(cfgKeyBatchRetries, 0)
	v.SetDefault(cfgKeyRecheck, true)
	v.SetDefault(cfgKeyPageSize, defaultPageSize)
	v.SetDefault(cfgKeyParallelCheck, 8)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/adminctl")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}
