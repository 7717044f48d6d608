package objectstore

import "testing"

func TestConfigValidate(t *testing.T) {
	valid := Config{
		Enabled:        true,
		Endpoint:       "localhost:9000",
		AccessKey:      "a",
		SecretKey:      "b",
		Region:         "us-east-1",
		BucketDatasets: "datasets",
		BucketModels:   "models",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := valid
	invalid.Endpoint = "http://localhost:9000"
	if err := invalid.Validate(); err == nil {
		t.Fatalf("Validate() expected error for scheme in endpoint")
	}
}

func TestConfigFromEnvDisabledSkipsValidation(t *testing.T) {
	t.Setenv("AILAB_OBJECTSTORE_ENABLED", "false")
	t.Setenv("AILAB_MINIO_ENDPOINT", "http://bad:9000")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.Enabled {
		t.Fatalf("expected disabled object store")
	}
}

func TestConfigFromEnvEnabledValidates(t *testing.T) {
	t.Setenv("AILAB_OBJECTSTORE_ENABLED", "true")
	t.Setenv("AILAB_MINIO_ENDPOINT", "http://bad:9000")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected validation error")
	}
}
