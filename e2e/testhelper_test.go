package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/shattavibe/api/internal/auth"
	"github.com/shattavibe/api/internal/handler"
	"github.com/shattavibe/api/internal/middleware"
	"github.com/shattavibe/api/internal/model"
	"github.com/shattavibe/api/internal/observability"
	"github.com/shattavibe/api/internal/service"
	"github.com/shattavibe/api/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	records *store.RecordStore
}

// setupApp builds the routes of main.go over an in-memory record store. Redis
// points at a closed port: the rate limiter fails open, so no server is needed.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	records := store.NewRecordStore(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { redisClient.Close() })

	validate := validator.New()
	registry := prometheus.NewRegistry()
	metrics := observability.New(registry)
	verifier := auth.NewLegacyVerifier(testJWTSecret)

	quota := service.NewQuotaTracker(records, 2, nil)
	library := service.NewLibraryService(records, nil, nil)
	ingest := service.NewIngestService(records, nil, nil, metrics, nil)

	callbackHandler := handler.NewCallbackHandler(ingest, validate, nil)
	generationHandler := handler.NewGenerationHandler(library, quota)
	authHandler := handler.NewAuthHandler(verifier)

	identity := middleware.NewIdentityMiddleware(verifier, false)
	rateLimiter := middleware.NewRateLimiter(redisClient, nil)

	app := fiber.New()

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"database": true,
				"redis":    redisClient.Ping(c.UserContext()).Err() == nil,
				"r2":       false,
			},
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	app.Get("/auth/verify", authHandler.Verify)

	app.Post("/callback/suno", rateLimiter.CallbackLimit(10000), callbackHandler.Suno)

	api := app.Group("/api", identity.Resolve(), rateLimiter.ReadLimit(10000))
	api.Get("/generations", generationHandler.List)
	api.Get("/generations/:taskId", generationHandler.Get)
	api.Get("/quota", generationHandler.Quota)

	return &testApp{app: app, records: records}
}

// seedJob records a submitted job the way the submission service does.
func seedJob(t *testing.T, ta *testApp, owner model.Identity, taskID string) {
	t.Helper()
	job := &model.GenerationJob{
		TaskID: taskID,
		Owner:  owner,
		Prompt: "lofi beat for studying",
		Model:  model.DefaultModel,
		Status: model.JobStatusPending,
	}
	if err := ta.records.For(owner).Save(context.Background(), job); err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.SignLegacyToken(testJWTSecret, userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// asDevice performs a request as an anonymous device.
func asDevice(t *testing.T, app *fiber.App, deviceID, path string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, http.MethodGet, path, "", map[string]string{
		middleware.DeviceIDHeader: deviceID,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// asAccount performs a request with a bearer token for userID.
func asAccount(t *testing.T, app *fiber.App, userID, path string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, http.MethodGet, path, "", map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// postCallback delivers a vendor callback.
func postCallback(t *testing.T, app *fiber.App, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, http.MethodPost, "/callback/suno", body, nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
