package setup

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// InitDB opens the MySQL connection pool used for room metadata and
// snapshot persistence.
func InitDB() *gorm.DB {
	dsn, err := getDSN()
	if err != nil {
		logrus.Fatal("failed to get DSN: ", err)
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		logrus.Fatal("failed to connect to MySQL: ", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		logrus.Fatal("failed to get underlying sql.DB: ", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	logrus.Info("MySQL connected")
	return db
}

func getDSN() (string, error) {
	mysqlUser := os.Getenv("MYSQL_USER")
	if mysqlUser == "" {
		return "", fmt.Errorf("MYSQL_USER environment variable not set")
	}
	mysqlPassword := os.Getenv("MYSQL_PASSWORD")
	if mysqlPassword == "" {
		return "", fmt.Errorf("MYSQL_PASSWORD environment variable not set")
	}
	mysqlHost := os.Getenv("MYSQL_HOST")
	if mysqlHost == "" {
		mysqlHost = "127.0.0.1"
	}
	mysqlPort := os.Getenv("MYSQL_PORT")
	if mysqlPort == "" {
		mysqlPort = "3306"
	}
	mysqlDB := os.Getenv("MYSQL_DB")
	if mysqlDB == "" {
		mysqlDB = "blockshare_db"
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		mysqlUser, mysqlPassword, mysqlHost, mysqlPort, mysqlDB)
	return dsn, nil
}

// InitRedis opens the Redis client shared by the lease store, snapshot
// cache, and rate limiter.
func InitRedis() *redis.Client {
	redisHost := os.Getenv("REDIS_HOST")
	if redisHost == "" {
		redisHost = "127.0.0.1"
	}
	redisPort := os.Getenv("REDIS_PORT")
	if redisPort == "" {
		redisPort = "6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         redisHost + ":" + redisPort,
		Password:     os.Getenv("REDIS_PASSWORD"),
		DB:           0,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		logrus.Fatal("failed to connect to Redis: ", err)
	}
	logrus.Info("Redis connected")
	return client
}
