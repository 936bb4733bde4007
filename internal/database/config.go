// Copyright 2020 the Exposure Key Server authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds the database connection settings. The password may be a
// reference to a secret which is resolved before connecting.
type Config struct {
	Name               string        `env:"DB_NAME" json:",omitempty"`
	User               string        `env:"DB_USER" json:",omitempty"`
	Host               string        `env:"DB_HOST, default=localhost" json:",omitempty"`
	Port               string        `env:"DB_PORT, default=5432" json:",omitempty"`
	SSLMode            string        `env:"DB_SSLMODE, default=require" json:",omitempty"`
	ConnectionTimeout  uint          `env:"DB_CONNECT_TIMEOUT" json:",omitempty"`
	Password           string        `env:"DB_PASSWORD" json:"-"`
	SSLCertPath        string        `env:"DB_SSLCERT" json:",omitempty"`
	SSLKeyPath         string        `env:"DB_SSLKEY" json:",omitempty"`
	SSLRootCertPath    string        `env:"DB_SSLROOTCERT" json:",omitempty"`
	PoolMinConnections string        `env:"DB_POOL_MIN_CONNS" json:",omitempty"`
	PoolMaxConnections string        `env:"DB_POOL_MAX_CONNS" json:",omitempty"`
	PoolMaxConnLife    time.Duration `env:"DB_POOL_MAX_CONN_LIFETIME" json:",omitempty"`
	PoolMaxConnIdle    time.Duration `env:"DB_POOL_MAX_CONN_IDLE_TIME" json:",omitempty"`
	PoolHealthCheck    time.Duration `env:"DB_POOL_HEALTH_CHECK_PERIOD" json:",omitempty"`
}

// DatabaseConfig implements setup.DatabaseConfigProvider.
func (c *Config) DatabaseConfig() *Config {
	return c
}

// ConnectionURL builds a connection string suitable for the pgx Postgres
// driver.
func (c *Config) ConnectionURL() string {
	if c == nil {
		return ""
	}

	host := c.Host
	if c.Port != "" {
		host = host + ":" + c.Port
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   host,
		Path:   c.Name,
	}

	if c.User != "" || c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}

	q := u.Query()
	addIfNotEmpty(q, "sslmode", c.SSLMode)
	if c.ConnectionTimeout > 0 {
		q.Add("connect_timeout", fmt.Sprintf("%d", c.ConnectionTimeout))
	}
	addIfNotEmpty(q, "sslcert", c.SSLCertPath)
	addIfNotEmpty(q, "sslkey", c.SSLKeyPath)
	addIfNotEmpty(q, "sslrootcert", c.SSLRootCertPath)
	addIfNotEmpty(q, "pool_min_conns", c.PoolMinConnections)
	addIfNotEmpty(q, "pool_max_conns", c.PoolMaxConnections)
	if c.PoolMaxConnLife > 0 {
		q.Add("pool_max_conn_lifetime", c.PoolMaxConnLife.String())
	}
	if c.PoolMaxConnIdle > 0 {
		q.Add("pool_max_conn_idle_time", c.PoolMaxConnIdle.String())
	}
	if c.PoolHealthCheck > 0 {
		q.Add("pool_health_check_period", c.PoolHealthCheck.String())
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func addIfNotEmpty(q url.Values, key, val string) {
	if val != "" {
		q.Add(key, val)
	}
}
