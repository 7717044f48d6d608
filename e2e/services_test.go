//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type service struct {
	name    string
	path    string
	addrEnv string
	addr    string
}

func (s service) url(path string) string {
	return fmt.Sprintf("http://%s%s", s.addr, path)
}

// startServices builds and starts every binary against infra. The gateway is
// started last and pointed at the API services.
func startServices(t *testing.T, infra infraConfig) map[string]service {
	t.Helper()

	services := []service{
		{name: "dataset-registry", path: "./dataset-registry", addrEnv: "DATASET_REGISTRY_HTTP_ADDR"},
		{name: "experiments", path: "./experiments", addrEnv: "EXPERIMENTS_HTTP_ADDR"},
		{name: "trainer", path: "./trainer", addrEnv: "TRAINER_HTTP_ADDR"},
		{name: "gateway", path: "./gateway", addrEnv: "GATEWAY_HTTP_ADDR"},
	}

	root := repoRoot(t)
	tmpDir := t.TempDir()
	out := make(map[string]service, len(services))

	for _, svc := range services {
		svc.addr = freeAddr(t)

		bin := filepath.Join(tmpDir, svc.name+".bin")
		build := exec.Command("go", "build", "-o", bin, svc.path)
		build.Dir = root
		buildOut, err := build.CombinedOutput()
		if err != nil {
			t.Fatalf("go build %s: %v\n%s", svc.path, err, string(buildOut))
		}

		var logs bytes.Buffer
		cmd := exec.Command(bin)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%s=%s", svc.addrEnv, svc.addr),
			"AILAB_DATABASE_URL="+infra.databaseURL,
			"AILAB_OBJECTSTORE_ENABLED=true",
			"AILAB_MINIO_ENDPOINT="+infra.minioEndpoint,
			"AILAB_MINIO_ACCESS_KEY="+infra.minioAccessKey,
			"AILAB_MINIO_SECRET_KEY="+infra.minioSecretKey,
			"AILAB_MINIO_USE_SSL=false",
			"AILAB_MINIO_BUCKET_DATASETS="+infra.minioBucketDatasets,
			"AILAB_MINIO_BUCKET_MODELS="+infra.minioBucketModels,
			"AILAB_REGISTRY_DIR="+filepath.Join(tmpDir, "registry"),
			"AILAB_BUILTIN_DATA_DIR="+filepath.Join(tmpDir, "builtin"),
			"AILAB_UPLOAD_DIR="+filepath.Join(tmpDir, "uploads"),
			"AILAB_WORKER_POLL_INTERVAL=200ms",
			"EXPERIMENTS_BASE_URL="+out["experiments"].url(""),
			"DATASET_REGISTRY_BASE_URL="+out["dataset-registry"].url(""),
		)
		cmd.Stdout = &logs
		cmd.Stderr = &logs

		if err := cmd.Start(); err != nil {
			t.Fatalf("start %s: %v", svc.name, err)
		}
		t.Cleanup(func() { stopProcess(t, cmd, &logs) })

		waitHTTP200(t, svc.url("/readyz"))
		out[svc.name] = svc
	}
	return out
}

func TestServices(t *testing.T) {
	infra := ensureInfra(t)
	services := startServices(t, infra)

	for name, svc := range services {
		t.Run("healthz/"+name, func(t *testing.T) {
			resp, err := http.Get(svc.url("/healthz"))
			if err != nil {
				t.Fatalf("GET %s: %v", svc.url("/healthz"), err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("GET %s status=%d, want 200", svc.url("/healthz"), resp.StatusCode)
			}
		})
	}

	t.Run("async run", func(t *testing.T) {
		gw := services["gateway"]
		project := postJSON(t, gw.url("/projects"), `{"name":"E2E","slug":"e2e","branch":"ml"}`)
		experiment := postJSON(t, gw.url("/experiments"), fmt.Sprintf(`{"project_id":%q,"name":"iris"}`, project["id"]))
		run := postJSON(t, gw.url("/runs"), fmt.Sprintf(
			`{"experiment_id":%q,"params":{"dataset":{"name":"iris"},"model":{"name":"logreg"},"artifacts":{"save_model":true}}}`,
			experiment["id"],
		))
		runID, _ := run["id"].(string)

		started := postJSON(t, gw.url("/runs/"+runID+"/start"), "")
		if started["mode"] != "async" {
			t.Fatalf("start=%v, want async", started)
		}

		final := waitRunTerminal(t, gw.url("/runs/"+runID), 60*time.Second)
		if final["status"] != "SUCCEEDED" {
			t.Fatalf("run=%v, want SUCCEEDED", final)
		}
		metrics, _ := final["metrics"].(map[string]any)
		if acc, _ := metrics["accuracy"].(float64); acc <= 0.8 {
			t.Fatalf("accuracy=%v, want > 0.8", metrics["accuracy"])
		}
		artifacts, _ := metrics["artifacts"].(map[string]any)
		if path, _ := artifacts["model_path"].(string); !strings.HasPrefix(path, "s3://"+infra.minioBucketModels+"/runs/") {
			t.Fatalf("model_path=%v, want models bucket", artifacts["model_path"])
		}
	})
}

func postJSON(t *testing.T, url, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode/100 != 2 {
		t.Fatalf("POST %s status=%d body=%s", url, resp.StatusCode, raw)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("POST %s decode %q: %v", url, raw, err)
	}
	return out
}

func waitRunTerminal(t *testing.T, url string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		resp, err := http.Get(url)
		if err != nil {
			t.Fatalf("GET %s: %v", url, err)
		}
		var run map[string]any
		err = json.NewDecoder(resp.Body).Decode(&run)
		_ = resp.Body.Close()
		if err != nil {
			t.Fatalf("GET %s decode: %v", url, err)
		}
		switch run["status"] {
		case "SUCCEEDED", "FAILED", "CANCELED":
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for run, last=%v", run)
		}
		time.Sleep(250 * time.Millisecond)
	}
}

type infraConfig struct {
	databaseURL         string
	minioEndpoint       string
	minioAccessKey      string
	minioSecretKey      string
	minioBucketDatasets string
	minioBucketModels   string
}

func ensureInfra(t *testing.T) infraConfig {
	t.Helper()

	if v := strings.TrimSpace(os.Getenv("AILAB_E2E_DATABASE_URL")); v != "" {
		minioEndpoint := strings.TrimSpace(os.Getenv("AILAB_E2E_MINIO_ENDPOINT"))
		if minioEndpoint == "" {
			t.Fatalf("AILAB_E2E_MINIO_ENDPOINT is required when AILAB_E2E_DATABASE_URL is set")
		}
		minioAccessKey := strings.TrimSpace(os.Getenv("AILAB_E2E_MINIO_ACCESS_KEY"))
		minioSecretKey := strings.TrimSpace(os.Getenv("AILAB_E2E_MINIO_SECRET_KEY"))
		if minioAccessKey == "" || minioSecretKey == "" {
			t.Fatalf("AILAB_E2E_MINIO_ACCESS_KEY and AILAB_E2E_MINIO_SECRET_KEY are required when using external minio")
		}

		bucketDatasets := strings.TrimSpace(os.Getenv("AILAB_E2E_MINIO_BUCKET_DATASETS"))
		if bucketDatasets == "" {
			bucketDatasets = "datasets"
		}
		bucketModels := strings.TrimSpace(os.Getenv("AILAB_E2E_MINIO_BUCKET_MODELS"))
		if bucketModels == "" {
			bucketModels = "models"
		}

		return infraConfig{
			databaseURL:         v,
			minioEndpoint:       minioEndpoint,
			minioAccessKey:      minioAccessKey,
			minioSecretKey:      minioSecretKey,
			minioBucketDatasets: bucketDatasets,
			minioBucketModels:   bucketModels,
		}
	}

	if strings.TrimSpace(os.Getenv("AILAB_E2E_SKIP_DOCKER")) == "1" {
		t.Skip("docker infra is disabled (AILAB_E2E_SKIP_DOCKER=1); set AILAB_E2E_DATABASE_URL + AILAB_E2E_MINIO_* to run")
	}

	if !commandExists("docker") {
		t.Skip("docker not found; set AILAB_E2E_DATABASE_URL + AILAB_E2E_MINIO_* to run without docker")
	}

	dbContainer := fmt.Sprintf("ailab-e2e-postgres-%d", time.Now().UnixNano())
	minioContainer := fmt.Sprintf("ailab-e2e-minio-%d", time.Now().UnixNano())

	dbURL := startPostgres(t, dbContainer)
	minioEndpoint := startMinIO(t, minioContainer)

	const (
		minioRootUser     = "ailab-root"
		minioRootPassword = "ailab-root-password"
	)
	const (
		bucketDatasets = "datasets"
		bucketModels   = "models"
	)

	waitMinIOReady(t, minioEndpoint, 20*time.Second)
	ensureMinIOBuckets(t, minioEndpoint, minioRootUser, minioRootPassword, bucketDatasets, bucketModels)

	waitPostgresReady(t, dbURL, 20*time.Second)

	return infraConfig{
		databaseURL:         dbURL,
		minioEndpoint:       minioEndpoint,
		minioAccessKey:      minioRootUser,
		minioSecretKey:      minioRootPassword,
		minioBucketDatasets: bucketDatasets,
		minioBucketModels:   bucketModels,
	}
}

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func startPostgres(t *testing.T, name string) string {
	t.Helper()

	image := strings.TrimSpace(os.Getenv("AILAB_E2E_POSTGRES_IMAGE"))
	if image == "" {
		image = "postgres:14-alpine"
	}

	run := exec.Command("docker", "run",
		"-d",
		"--rm",
		"--name", name,
		"-e", "POSTGRES_USER=ai",
		"-e", "POSTGRES_PASSWORD=ai",
		"-e", "POSTGRES_DB=ai_lab",
		"-p", "127.0.0.1:0:5432",
		image,
	)
	out, err := run.CombinedOutput()
	if err != nil {
		t.Fatalf("docker run postgres: %v\n%s", err, string(out))
	}
	t.Cleanup(func() { _ = exec.Command("docker", "rm", "-f", name).Run() })

	port := dockerHostPort(t, name, "5432/tcp")
	return fmt.Sprintf("postgres://ai:ai@127.0.0.1:%d/ai_lab?sslmode=disable", port)
}

func startMinIO(t *testing.T, name string) string {
	t.Helper()

	image := strings.TrimSpace(os.Getenv("AILAB_E2E_MINIO_IMAGE"))
	if image == "" {
		image = "minio/minio@sha256:14cea493d9a34af32f524e538b8346cf79f3321eff8e708c1e2960462bd8936e"
	}

	run := exec.Command("docker", "run",
		"-d",
		"--rm",
		"--name", name,
		"-e", "MINIO_ROOT_USER=ailab-root",
		"-e", "MINIO_ROOT_PASSWORD=ailab-root-password",
		"-p", "127.0.0.1:0:9000",
		image,
		"server", "/data", "--console-address", ":9001",
	)
	out, err := run.CombinedOutput()
	if err != nil {
		t.Fatalf("docker run minio: %v\n%s", err, string(out))
	}
	t.Cleanup(func() { _ = exec.Command("docker", "rm", "-f", name).Run() })

	port := dockerHostPort(t, name, "9000/tcp")
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func dockerHostPort(t *testing.T, containerName string, portProto string) int {
	t.Helper()

	cmd := exec.Command("docker", "inspect", "-f", fmt.Sprintf("{{(index (index .NetworkSettings.Ports %q) 0).HostPort}}", portProto), containerName)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("docker inspect %s: %v\n%s", containerName, err, string(out))
	}
	portRaw := strings.TrimSpace(string(out))
	port, err := strconv.Atoi(portRaw)
	if err != nil || port <= 0 {
		t.Fatalf("invalid port mapping for %s (%s): %q", containerName, portProto, portRaw)
	}
	return port
}

func waitPostgresReady(t *testing.T, databaseURL string, timeout time.Duration) {
	t.Helper()

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		pingCtx, cancel := context.WithTimeout(context.Background(), 750*time.Millisecond)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return
		}

		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for postgres: %v", err)
		case <-ticker.C:
		}
	}
}

func waitMinIOReady(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()

	url := fmt.Sprintf("http://%s/minio/health/ready", endpoint)
	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(timeout)
	for {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for minio %s", url)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func ensureMinIOBuckets(t *testing.T, endpoint, accessKey, secretKey string, buckets ...string) {
	t.Helper()

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("minio client: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ensure := func(bucket string) {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			t.Fatalf("bucket exists %s: %v", bucket, err)
		}
		if exists {
			return
		}
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: "us-east-1"}); err != nil {
			t.Fatalf("make bucket %s: %v", bucket, err)
		}
	}

	for _, bucket := range buckets {
		ensure(bucket)
	}
}

func repoRoot(t *testing.T) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime.Caller failed")
	}
	return filepath.Dir(filepath.Dir(file))
}

func freeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitHTTP200(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 500 * time.Millisecond}
	deadline := time.Now().Add(8 * time.Second)
	for {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}

		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", url)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func stopProcess(t *testing.T, cmd *exec.Cmd, out *bytes.Buffer) {
	t.Helper()

	if cmd.Process == nil {
		return
	}

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(2 * time.Second):
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	case err := <-done:
		if err != nil {
			body := out.String()
			if len(body) > 8000 {
				body = body[len(body)-8000:]
			}
			t.Fatalf("process exit: %v\n%s", err, body)
		}
	}
}
