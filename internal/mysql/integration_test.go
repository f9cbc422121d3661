package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcmysql "github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestSource_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	dbUser := "root"
	dbPassword := "password"

	mysqlContainer, err := tcmysql.Run(ctx,
		"mysql:8.0-debian",
		tcmysql.WithDatabase("appdb"),
		tcmysql.WithUsername(dbUser),
		tcmysql.WithPassword(dbPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("port: 3306  MySQL Community Server").
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	defer mysqlContainer.Terminate(ctx)

	host, err := mysqlContainer.Host(ctx)
	require.NoError(t, err)
	port, err := mysqlContainer.MappedPort(ctx, "3306")
	require.NoError(t, err)

	// Extra databases to exercise enumeration and exclusion.
	admin, err := sql.Open("mysql", fmt.Sprintf("root:%s@tcp(%s:%d)/", dbPassword, host, port.Int()))
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS appdb2")
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS appdb.orders (id INT PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, admin.Close())

	// mysqldump runs inside the container; a wrapper script bridges the gap.
	containerName, err := mysqlContainer.Name(ctx)
	require.NoError(t, err)
	containerName = strings.TrimPrefix(containerName, "/")

	tDir := t.TempDir()
	dumpWrapper := filepath.Join(tDir, "mysqldump_wrapper.sh")
	dumpContent := fmt.Sprintf("#!/bin/sh\nexec docker exec -e MYSQL_PWD=%s %s mysqldump \"$@\"\n", dbPassword, containerName)
	require.NoError(t, os.WriteFile(dumpWrapper, []byte(dumpContent), 0o755))

	t.Run("ListDatabases", func(t *testing.T) {
		src := NewSource(Target{
			Host:     host,
			Port:     port.Int(),
			User:     dbUser,
			Password: dbPassword,
			Excluded: []string{"appdb2"},
		})

		dbs, err := src.ListDatabases(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"appdb"}, dbs)
	})

	t.Run("ListDatabases_BadCredentials", func(t *testing.T) {
		src := NewSource(Target{
			Host:     host,
			Port:     port.Int(),
			User:     dbUser,
			Password: "wrong",
		})

		_, err := src.ListDatabases(ctx)
		assert.Error(t, err)
	})

	t.Run("Dump", func(t *testing.T) {
		src := NewSource(Target{
			// The wrapper execs inside the container, so dump against the
			// container-local server.
			Host:          "127.0.0.1",
			Port:          3306,
			User:          dbUser,
			Password:      dbPassword,
			MysqldumpPath: dumpWrapper,
		})

		var out strings.Builder
		err := src.Dump(ctx, "appdb", &out)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "MySQL dump")
		assert.Contains(t, out.String(), "orders")
	})
}
