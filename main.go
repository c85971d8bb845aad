package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohitkumar/eduflow/action"
	"github.com/mohitkumar/eduflow/agent"
	"github.com/mohitkumar/eduflow/analytics"
	"github.com/mohitkumar/eduflow/config"
	"github.com/mohitkumar/eduflow/interpreter"
	"github.com/mohitkumar/eduflow/logger"
	"github.com/mohitkumar/eduflow/model"
	"github.com/mohitkumar/eduflow/node"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("config-file", "", "Path to config file.")
	cmd.PersistentFlags().String("storage-impl", "memory", "storage implementation: redis, postgres or memory")
	cmd.PersistentFlags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.PersistentFlags().String("redis-password", "", "redis password")
	cmd.PersistentFlags().Int("redis-pool-size", 10, "redis connection pool size")
	cmd.PersistentFlags().String("namespace", "eduflow", "namespace used in storage")
	cmd.PersistentFlags().String("postgres-dsn", "", "postgres connection string")
	cmd.PersistentFlags().Int32("postgres-max-conns", 10, "postgres pool size")
	cmd.PersistentFlags().Bool("postgres-ensure-schema", true, "create tables on startup")
	cmd.PersistentFlags().Int("partition-count", 16, "partitions keys are spread over")
	cmd.PersistentFlags().String("node-name", "", "name of this node")
	cmd.PersistentFlags().String("log-level", "info", "log level")
	cmd.PersistentFlags().Bool("log-development", false, "human readable logs")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("analytics-file", "", "write node outcomes as json lines to this file")
	cmd.Flags().Bool("scheduler-enabled", true, "run the schedule runner")
	cmd.Flags().Duration("scheduler-interval", time.Minute, "schedule tick interval")
	cmd.Flags().Duration("scheduler-lookback", time.Hour, "how far back a tick looks for due instants")
	cmd.Flags().String("action-url", "", "base url of the action service")
	cmd.Flags().Duration("action-timeout", 30*time.Second, "timeout of one action invocation")
	cmd.Flags().Int("action-retries", 3, "transport retries of one action invocation")
	cmd.Flags().Duration("action-backoff", 200*time.Millisecond, "initial retry backoff")
	cmd.Flags().Duration("graph-cache-ttl", 5*time.Minute, "how long decoded graphs are cached")
	cmd.Flags().Int("event-workers", 4, "concurrent event dispatch workers")
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)
	viper.SetEnvPrefix("EDUFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && len(configFile) > 0 {
			return err
		}
	}

	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.RedisConfig.Password = viper.GetString("redis-password")
	c.cfg.RedisConfig.PoolSize = viper.GetInt("redis-pool-size")
	c.cfg.PostgresConfig.DSN = viper.GetString("postgres-dsn")
	c.cfg.PostgresConfig.MaxConns = viper.GetInt32("postgres-max-conns")
	c.cfg.PostgresConfig.EnsureSchema = viper.GetBool("postgres-ensure-schema")
	c.cfg.PartitionCount = viper.GetInt("partition-count")
	c.cfg.NodeName = viper.GetString("node-name")
	c.cfg.LogLevel = viper.GetString("log-level")
	c.cfg.LogDevelopment = viper.GetBool("log-development")
	c.cfg.HttpPort = viper.GetInt("http-port")
	if file := viper.GetString("analytics-file"); len(file) > 0 {
		c.cfg.AnalyticsConfig = analytics.DataCollectorConfig{FileName: file, CollectorType: analytics.LOG_FILE_DATA_COLLECTOR}
	}
	c.cfg.SchedulerConfig.Enabled = viper.GetBool("scheduler-enabled")
	c.cfg.SchedulerConfig.TickInterval = viper.GetDuration("scheduler-interval")
	c.cfg.SchedulerConfig.Lookback = viper.GetDuration("scheduler-lookback")
	c.cfg.ActionConfig.BaseURL = viper.GetString("action-url")
	c.cfg.ActionConfig.Timeout = viper.GetDuration("action-timeout")
	c.cfg.ActionConfig.MaxRetries = viper.GetInt("action-retries")
	c.cfg.ActionConfig.BackoffBase = viper.GetDuration("action-backoff")
	c.cfg.GraphCacheTTL = viper.GetDuration("graph-cache-ttl")
	c.cfg.EventWorkers = viper.GetInt("event-workers")

	if err := logger.Init(logger.Config{Level: c.cfg.LogLevel, Development: c.cfg.LogDevelopment}); err != nil {
		return err
	}
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		return err
	}
	err = agent.Start()
	if err != nil {
		return err
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

// plan prints the dry-run plan of a bundle file, or of stored workflows.
func (c *cli) plan(cmd *cobra.Command, args []string) error {
	var plans map[string][]interpreter.Step
	bundleFile, err := cmd.Flags().GetString("bundle")
	if err != nil {
		return err
	}
	if len(bundleFile) > 0 {
		data, err := os.ReadFile(bundleFile)
		if err != nil {
			return err
		}
		var bundle model.WorkflowBundle
		if err := json.Unmarshal(data, &bundle); err != nil {
			return err
		}
		plans = planBundle(bundle)
	} else {
		c.cfg.SchedulerConfig.Enabled = false
		if c.cfg.ActionConfig.Timeout <= 0 {
			c.cfg.ActionConfig.Timeout = time.Second
		}
		a, err := agent.New(c.cfg.Config)
		if err != nil {
			return err
		}
		defer a.Shutdown()
		plans, err = a.Plan(context.Background(), args...)
		if err != nil {
			return err
		}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(plans)
}

func planBundle(bundle model.WorkflowBundle) map[string][]interpreter.Step {
	entry := ""
	order := 0
	for i, m := range bundle.Mappings {
		if i == 0 || m.NodeOrder < order {
			entry, order = m.NodeTemplateId, m.NodeOrder
		}
	}
	interp := interpreter.New(action.DefaultLabels())
	return interp.ParseAll(map[string]interpreter.WorkflowGraph{
		bundle.Workflow.Id: {Entry: entry, Nodes: node.DecodeAll(bundle.Nodes)},
	})
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "eduflow",
		Short:   "workflow automation engine",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}
	planCmd := &cobra.Command{
		Use:     "plan [workflowId...]",
		Short:   "print the dry-run plan of workflows",
		PreRunE: cli.setupConfig,
		RunE:    cli.plan,
	}
	planCmd.Flags().String("bundle", "", "plan a workflow bundle file instead of stored workflows")
	cmd.AddCommand(planCmd)

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
