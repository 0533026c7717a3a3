package config

import (
	simpleconfig "github.com/tendant/simple-content/pkg/simplecontent/config"
)

// LoadContentConfig builds the simple-content service configuration used to
// resolve content: file references. The database URL comes from
// CONTENT_DATABASE_URL; storage settings follow the AWS_* variables.
func LoadContentConfig(databaseURL string) (*simpleconfig.ServerConfig, error) {
	backend := getenv("DEFAULT_STORAGE_BACKEND", "s3")
	opts := []simpleconfig.Option{
		simpleconfig.WithDatabase(getenv("CONTENT_DATABASE_TYPE", "postgres"), databaseURL),
		simpleconfig.WithDatabaseSchema(getenv("CONTENT_DATABASE_SCHEMA", "content")),
		simpleconfig.WithDefaultStorage(backend),
	}

	switch backend {
	case "s3":
		opts = append(opts, simpleconfig.WithS3StorageFull(
			"s3",
			getenv("AWS_S3_BUCKET", "ingest-content"),
			getenv("AWS_S3_REGION", "us-east-1"),
			getenv("AWS_ACCESS_KEY_ID", ""),
			getenv("AWS_SECRET_ACCESS_KEY", ""),
			getenv("AWS_S3_ENDPOINT", ""),
			getenvBool("AWS_S3_USE_SSL", false),
			getenvBool("AWS_S3_USE_PATH_STYLE", true),
		))
	case "memory":
		opts = append(opts, simpleconfig.WithMemoryStorage("memory"))
	}

	// Read-only consumer: no previews or event log.
	opts = append(opts,
		simpleconfig.WithEventLogging(false),
		simpleconfig.WithPreviews(false),
	)

	return simpleconfig.Load(opts...)
}
