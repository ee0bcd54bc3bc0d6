package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cmd := buildRootCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	cfg := &serverConfig{}

	cmd := &cobra.Command{
		Use:     "zipstreamd",
		Version: version,
		Short:   "Serve virtual ZIP64 archives synthesized from blob-store objects",
		Long: `zipstreamd accepts a manifest describing a set of blob-store objects
and serves them back as a single streamable ZIP64 archive, computing the
archive layout up front so Content-Length and byte-range requests work
without ever materializing the archive on disk.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen-addr", ":8080", "address to listen on")
	flags.StringVar(&cfg.S3Region, "s3-region", "", "AWS region for the blob-store client (empty uses the SDK's default resolution)")
	flags.StringVar(&cfg.S3EndpointURL, "s3-endpoint-url", "", "override endpoint for an S3-compatible store (empty uses AWS)")
	flags.BoolVar(&cfg.S3UsePathStyle, "s3-use-path-style", false, "use path-style S3 addressing (required by most non-AWS S3-compatible stores)")
	flags.IntVar(&cfg.S3MaxAPIAttempts, "s3-max-api-attempts", 3, "maximum attempts the AWS SDK retryer makes for a single API call")
	flags.StringVar(&cfg.S3AccessKeyID, "s3-access-key-id", "", "static access key ID (empty uses the SDK's default credential chain)")
	flags.StringVar(&cfg.S3SecretAccessKey, "s3-secret-access-key", "", "static secret access key, required if --s3-access-key-id is set")
	flags.IntVar(&cfg.BlobMaxAttempts, "blob-max-attempts", 5, "maximum attempts, including the first, for a single blob range fetch")
	flags.DurationVar(&cfg.IdleTimeout, "idle-timeout", defaultIdleTimeout, "maximum time to wait for the next request on a keep-alive connection")
	flags.DurationVar(&cfg.ReadHeaderTimeout, "read-header-timeout", defaultReadHeaderTimeout, "maximum time to read a request's headers")
	flags.DurationVar(&cfg.ShutdownGracePeriod, "shutdown-grace-period", defaultShutdownGracePeriod, "time to let in-flight requests finish before exiting on SIGINT/SIGTERM")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn, error")

	return cmd
}
