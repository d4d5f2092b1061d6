package config

import (
	"os"
	"strconv"
	"time"
)

const DATABASE_TYPE = "FMILL_DATABASE_TYPE"
const DATABASE_URL = "FMILL_DATABASE_URL"
const DATABASE_SQLITE_FILE_NAME = "FMILL_DATABASE_SQLITE_FILE_NAME"
const ENGINE_SERVER_WEB_PORT = "FMILL_ENGINE_SERVER_WEB_PORT"
const ENGINE_CHECK_DB_INTERVAL = "FMILL_ENGINE_CHECK_DB_INTERVAL"
const ENGINE_STUCK_EXECUTIONS_INTERVAL = "FMILL_ENGINE_STUCK_EXECUTIONS_INTERVAL"
const ENGINE_STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES = "FMILL_ENGINE_STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES"
const ENGINE_BATCH_SIZE = "FMILL_ENGINE_BATCH_SIZE"         //number of executions to pull from the database at a time
const ENGINE_EXECUTOR_GROUP = "FMILL_ENGINE_EXECUTOR_GROUP" //the group id of the executor that it will process jobs from
const ENGINE_EXECUTOR_SIZE = "FMILL_ENGINE_EXECUTOR_SIZE"   //number of workers to run ie the parallel nature of the jobs
const ENGINE_MAX_TRANSITIONS = "FMILL_ENGINE_MAX_TRANSITIONS"
const ENGINE_MAX_RETRY_DELAY = "FMILL_ENGINE_MAX_RETRY_DELAY"
const ENGINE_CANCEL_POLL_INTERVAL = "FMILL_ENGINE_CANCEL_POLL_INTERVAL"
const WEB_SESSION_EXPIRY_HOURS = "FMILL_WEB_SESSION_EXPIRY_HOURS"
const ADMIN_PASSWORD = "FMILL_ADMIN_PASSWORD"
const EXECUTOR_NAME = "FMILL_EXECUTOR_NAME"

const DATABASE_TYPE_POSTGRES = "POSTGRES"
const DATABASE_TYPE_MYSQL = "MYSQL"
const DATABASE_TYPE_SQLITE = "SQLITE"

func GetSystemSettingInteger(settingKey string) int {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		intValue, _ := strconv.Atoi(val)
		return intValue
	}
	return 0
}

func GetSystemSettingDuration(settingKey string) time.Duration {
	val := GetSystemSettingString(settingKey)
	if val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return 0
}

func GetSystemSettingString(settingKey string) string {
	val := os.Getenv(settingKey)
	if val != "" {
		return val
	}
	if settingKey == ENGINE_CHECK_DB_INTERVAL {
		return "3s"
	}
	if settingKey == ENGINE_STUCK_EXECUTIONS_INTERVAL {
		return "60s"
	}
	if settingKey == ENGINE_BATCH_SIZE {
		return "5"
	}
	if settingKey == ENGINE_STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES {
		return "5" // default to 5 minutes
	}
	if settingKey == ENGINE_EXECUTOR_SIZE {
		return "5"
	}
	if settingKey == ENGINE_EXECUTOR_GROUP {
		return "default"
	}
	if settingKey == ENGINE_SERVER_WEB_PORT {
		return "8080"
	}
	if settingKey == ENGINE_MAX_TRANSITIONS {
		return "250" // guards against unbounded cycles in a malformed definition
	}
	if settingKey == ENGINE_MAX_RETRY_DELAY {
		return "5m" // engine-wide cap on task retry backoff
	}
	if settingKey == ENGINE_CANCEL_POLL_INTERVAL {
		return "1s"
	}
	if settingKey == WEB_SESSION_EXPIRY_HOURS {
		return "1"
	}
	if settingKey == DATABASE_SQLITE_FILE_NAME {
		return "./flowmill.db"
	}
	return ""
}
