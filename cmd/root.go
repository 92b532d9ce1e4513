package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kzbirding/ScrubJay-sub000/scrubjay"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SJ"

var (
	cfg        = scrubjay.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "scrubjay [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes a log level name into a *slog.LevelVar
// during viper unmarshaling.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", scrubjay.DefaultDatabase)
	viper.SetDefault("database_type", scrubjay.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		scrubjay.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		scrubjay.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("log_level", scrubjay.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", scrubjay.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", scrubjay.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.custom_status", scrubjay.DefaultDiscordCustomStatus)
	viper.SetDefault(
		"discord.log_level",
		scrubjay.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		scrubjay.DefaultDiscordgoLogLevel.String(),
	)

	// eBird config
	viper.SetDefault("ebird.token", "")
	viper.SetDefault("ebird.base_url", "")
	viper.SetDefault("ebird.regions", []string{})
	viper.SetDefault("ebird.poll_interval", scrubjay.DefaultEBirdPollInterval)
	viper.SetDefault(
		"ebird.requests_per_second",
		scrubjay.DefaultEBirdRequestsPerSecond,
	)

	// Feeds config
	viper.SetDefault("feeds.poll_interval", scrubjay.DefaultFeedPollInterval)

	// Dispatch config
	viper.SetDefault("dispatch.interval", scrubjay.DefaultDispatchInterval)
	viper.SetDefault("dispatch.lookback", scrubjay.DefaultDispatchLookback)
	viper.SetDefault(
		"dispatch.confirmed_window",
		scrubjay.DefaultConfirmedWindow,
	)
	viper.SetDefault("dispatch.retention_days", scrubjay.DefaultRetentionDays)
	viper.SetDefault("dispatch.prune_interval", scrubjay.DefaultPruneInterval)
	viper.SetDefault(
		"dispatch.bootstrap_timeout",
		scrubjay.DefaultBootstrapTimeout,
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", scrubjay.DefaultAPIListen)
	viper.SetDefault("api.log_level", scrubjay.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", scrubjay.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		scrubjay.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", scrubjay.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", scrubjay.DefaultIdleTimeout)

	viper.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set("ebird.regions", viper.GetStringSlice("ebird.regions"))

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
