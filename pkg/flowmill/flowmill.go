package flowmill

import (
	"context"
	"database/sql"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/flowmill/flowmill/internal/config"
	"github.com/flowmill/flowmill/internal/controllers"
	"github.com/flowmill/flowmill/internal/engine"
	"github.com/flowmill/flowmill/internal/invoker"
	"github.com/flowmill/flowmill/internal/migrations"
	"github.com/flowmill/flowmill/internal/repository"
	"github.com/flowmill/flowmill/internal/workflows"
	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/domain"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"

	_ "github.com/go-sql-driver/mysql"
	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Start boots the workflow engine and HTTP server. The task registry must be
// populated by the caller before invocation; definitions referencing an
// unregistered taskRef are rejected at trigger time, not at startup.
// This call blocks until the HTTP server stops.
func Start(mux *http.ServeMux, tasks *invoker.Registry) error {

	databaseType := config.GetSystemSettingString(config.DATABASE_TYPE)
	if databaseType != config.DATABASE_TYPE_POSTGRES && databaseType != config.DATABASE_TYPE_MYSQL && databaseType != config.DATABASE_TYPE_SQLITE {
		panic("FMILL_DATABASE_TYPE must be set to one of the following values: POSTGRES, MYSQL, SQLITE")
	}

	var db *sql.DB
	if databaseType == config.DATABASE_TYPE_POSTGRES {
		db = setupPostgresDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_SQLITE {
		db = setupSqliteDatabase()
		defer db.Close()
	}
	if databaseType == config.DATABASE_TYPE_MYSQL {
		db = setupMysqlDatabase()
		defer db.Close()
	}

	clock := &core.RealClock{}
	executionRepo := repository.NewExecutionRepository(db, clock)
	historyRepo := repository.NewHistoryRepository(db, clock)
	definitionRepo := repository.NewDefinitionRepository(db)
	executorRepo := repository.NewExecutorRepository(db)
	userRepo := repository.NewUserRepository(db)

	bootstrapAdminUser(userRepo)

	inv := invoker.NewRetryingInvoker(tasks, config.GetSystemSettingDuration(config.ENGINE_MAX_RETRY_DELAY))
	eng := engine.NewEngine(executionRepo, historyRepo, inv, clock, engine.Options{
		MaxTransitions:     config.GetSystemSettingInteger(config.ENGINE_MAX_TRANSITIONS),
		CancelPollInterval: config.GetSystemSettingDuration(config.ENGINE_CANCEL_POLL_INTERVAL),
	})
	manager := engine.NewManager(executionRepo, historyRepo, definitionRepo, executorRepo, eng, clock)

	registerBuiltinDefinitions(manager)

	pollInterval := config.GetSystemSettingDuration(config.ENGINE_CHECK_DB_INTERVAL)
	go manager.StartEngine(context.Background(), pollInterval)

	if mux == nil {
		mux = http.NewServeMux()
	}
	authController := controllers.NewAuthController(userRepo)
	authController.RegisterRoutes(mux)
	definitionsController := controllers.NewDefinitionsController(manager, userRepo)
	definitionsController.RegisterRoutes(mux)
	executionsController := controllers.NewExecutionsController(executionRepo, historyRepo, manager, userRepo)
	executionsController.RegisterRoutes(mux)
	executorsController := controllers.NewExecutorsController(executorRepo, userRepo)
	executorsController.RegisterRoutes(mux)
	usersController := controllers.NewUsersController(userRepo)
	usersController.RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

// registerBuiltinDefinitions loads the definitions shipped in the binary.
// Registration also persists them so the API lists them like any other.
func registerBuiltinDefinitions(manager *engine.Manager) {
	for _, name := range workflows.Names {
		doc, err := fs.ReadFile(workflows.FS, name)
		if err != nil {
			slog.Error("Failed to read built-in definition", "file", name, "error", err)
			continue
		}
		if _, err := manager.RegisterDefinition(doc); err != nil {
			slog.Error("Failed to register built-in definition", "file", name, "error", err)
		}
	}
}

// bootstrapAdminUser creates the initial admin account when the users table
// is empty. The password comes from FMILL_ADMIN_PASSWORD or is generated and
// logged once.
func bootstrapAdminUser(userRepo *repository.UserRepository) {
	count, err := userRepo.CountUsers()
	if err != nil {
		slog.Error("Failed to count users", "error", err)
		return
	}
	if count > 0 {
		return
	}

	password := config.GetSystemSettingString(config.ADMIN_PASSWORD)
	generated := false
	if password == "" {
		password = uuid.NewString()
		generated = true
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("Failed to hash admin password", "error", err)
		return
	}
	apiKey := uuid.NewString()
	user := &domain.User{
		Username: "admin",
		Password: string(hash),
		ApiKey:   sql.NullString{String: apiKey, Valid: true},
		Created:  sql.NullTime{Time: time.Now().UTC(), Valid: true},
		Enabled:  sql.NullBool{Bool: true, Valid: true},
	}
	if _, err := userRepo.Save(user); err != nil {
		slog.Error("Failed to create admin user", "error", err)
		return
	}
	if generated {
		slog.Info("Created admin user with generated password", "username", "admin", "password", password, "apiKey", apiKey)
	} else {
		slog.Info("Created admin user", "username", "admin", "apiKey", apiKey)
	}
}

func setupPostgresDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("FMILL_DATABASE_URL must be set when using the POSTGRES database type")
	}
	slog.Info("Using Postgres database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("postgres", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening Postgres database")
	dbPostgres, err := sql.Open("postgres", dbURL)
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbPostgres
}

func setupSqliteDatabase() *sql.DB {
	fileName := config.GetSystemSettingString(config.DATABASE_SQLITE_FILE_NAME)
	if fileName == "" {
		panic("FMILL_DATABASE_SQLITE_FILE_NAME must be set")
	}
	dbURL := "sqlite3://" + fileName
	slog.Info("Using SQLite database", "file", fileName)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("sqlite3", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening SQLite database")
	dbSqlite, err := sql.Open("sqlite3", fileName)
	if err != nil {
		log.Fatalf("Failed to open SQLite DB: %v", err)
	}
	if err := dbSqlite.Ping(); err != nil {
		log.Fatalf("Failed to ping SQLite DB: %v", err)
	}
	return dbSqlite
}

func setupMysqlDatabase() *sql.DB {
	dbURL := config.GetSystemSettingString(config.DATABASE_URL)
	if dbURL == "" {
		panic("FMILL_DATABASE_URL must be set when using the MYSQL database type")
	}
	if !strings.Contains(dbURL, "parseTime=true") {
		panic("FMILL_DATABASE_URL must contain 'parseTime=true' for MySQL")
	}
	if !strings.HasPrefix(dbURL, "mysql://") {
		panic("FMILL_DATABASE_URL must start with 'mysql://' for MySQL")
	}

	slog.Info("Using MySQL database", "url", dbURL)
	slog.Info("Running migrations")
	if err := runMigrationsFromEmbed("mysql", dbURL); err != nil {
		slog.Error("DB migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Opening MySQL database")
	dbMysql, err := sql.Open("mysql", strings.Replace(dbURL, "mysql://", "", 1))
	if err != nil {
		slog.Error("DB connection failed", "error", err)
		os.Exit(1)
	}
	return dbMysql
}

func runMigrationsFromEmbed(migrationsPath string, dbURL string) error {
	sub, err := fs.Sub(migrations.FS, migrationsPath)
	if err != nil {
		return err
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func SetupLogger() {
	w := os.Stderr
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}
