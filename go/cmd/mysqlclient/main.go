/*
Copyright 2024 The MySQLClient Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// mysqlclient runs queries against a MySQL server and renders the
// results as tables. Connection settings come from flags, optionally
// defaulted from a config file.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"mysqlclient.io/mysqlclient/go/log"
	"mysqlclient.io/mysqlclient/go/mysql"
)

var (
	host     = pflag.String("host", "127.0.0.1", "server host")
	port     = pflag.Int("port", 3306, "server port")
	socket   = pflag.String("socket", "", "unix socket path, overrides host/port")
	user     = pflag.StringP("user", "u", "root", "user name")
	password = pflag.StringP("password", "p", "", "password")
	database = pflag.StringP("database", "D", "", "default database")
	ssl      = pflag.Bool("ssl", false, "connect over TLS")
	timeout  = pflag.Duration("timeout", 15*time.Second, "connect timeout")
	execute  = pflag.StringP("execute", "e", "", "statement to run before any positional arguments")
	config   = pflag.String("config", "", "config file with connection defaults")
)

func main() {
	pflag.Parse()
	defer log.Flush()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mysqlclient: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	v := viper.New()
	if err := loadConfig(v); err != nil {
		return err
	}

	queries := pflag.Args()
	if *execute != "" {
		queries = append([]string{*execute}, queries...)
	}
	if len(queries) == 0 {
		pflag.Usage()
		return fmt.Errorf("no statement to run")
	}

	params := &mysql.ConnParams{
		Host:           v.GetString("host"),
		Port:           v.GetInt("port"),
		UnixSocket:     v.GetString("socket"),
		Uname:          v.GetString("user"),
		Pass:           v.GetString("password"),
		DBName:         v.GetString("database"),
		SslEnabled:     v.GetBool("ssl"),
		ConnectTimeout: v.GetDuration("timeout"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), params.ConnectTimeout)
	defer cancel()
	conn, err := mysql.Connect(ctx, params)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Infof("connected to %v, server version %v", conn.ID(), conn.ServerVersion())

	for _, query := range queries {
		start := time.Now()
		result, err := conn.Execute(query, nil)
		if err != nil {
			return err
		}
		for ; result != nil; result = result.Next {
			renderResult(os.Stdout, result, time.Since(start))
		}
	}
	return nil
}

// loadConfig reads the optional config file and layers the
// command-line flags on top, so explicit flags always win.
func loadConfig(v *viper.Viper) error {
	if err := v.BindPFlags(pflag.CommandLine); err != nil {
		return err
	}
	if *config == "" {
		return nil
	}
	v.SetConfigFile(*config)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading config %v: %v", *config, err)
	}
	return nil
}
