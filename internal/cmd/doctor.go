package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	airqconfig "github.com/3leaps/airq/internal/config"
	errwrap "github.com/3leaps/airq/internal/errors"
	"github.com/3leaps/airq/internal/observability"
	"github.com/3leaps/airq/pkg/manifest"
	"github.com/3leaps/airq/pkg/provider"
	"github.com/3leaps/airq/pkg/storage"
)

var doctorProvider string

const imdsTimeout = 2 * time.Second

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration and storage and suggest fixes.

Examples:
  airq doctor                # Configuration, rules and storage checks
  airq doctor --provider s3  # Also check AWS credentials`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

// doctorReport numbers checks and remembers whether any of them failed.
type doctorReport struct {
	log    *zap.Logger
	n      int
	total  int
	failed bool
}

func (r *doctorReport) line(what, mark, detail string) string {
	r.n++
	return fmt.Sprintf("[%d/%d] Checking %s... %s %s", r.n, r.total, what, mark, detail)
}

func (r *doctorReport) pass(what, detail string, fields ...zap.Field) {
	r.log.Info(r.line(what, "✅", detail), fields...)
}

func (r *doctorReport) skip(what, detail string) {
	r.log.Info(r.line(what, "➖", detail))
}

func (r *doctorReport) warn(what, detail string, fields ...zap.Field) {
	r.failed = true
	r.log.Warn(r.line(what, "⚠️ ", detail), fields...)
}

func (r *doctorReport) fail(what, detail string, err error) {
	r.failed = true
	r.log.Error(r.line(what, "❌", detail), zap.Error(err))
}

func runDoctor(cmd *cobra.Command, _ []string) {
	ctx := cmd.Context()
	log := observability.CLILogger

	banner := "doctor"
	if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
		banner = id.BinaryName + " doctor"
	}
	log.Info("=== " + banner + " ===")
	log.Info("")

	rep := &doctorReport{log: log, total: 6}
	if doctorProvider == "s3" {
		rep.total += 3
	}

	if v := runtime.Version(); v >= "go1.23" {
		rep.pass("Go version", v)
	} else {
		rep.warn("Go version", v+" (recommended: go1.23+)")
	}

	if v := crucible.GetVersion().Gofulmen; v != "" {
		rep.pass("Gofulmen", "v"+v)
	} else {
		rep.warn("Gofulmen", "version unknown")
	}

	cfg, err := airqconfig.Load(ctx)
	if err != nil {
		rep.fail("configuration", "invalid", err)
		ExitWithCode(log, foundry.ExitInvalidArgument, "Invalid configuration",
			errwrap.WrapInternal(ctx, err, "Invalid configuration"))
		return
	}
	rep.pass("configuration", "jobs backend "+cfg.Jobs.Backend, zap.String("output", cfg.OutputBase("<job_id>")))

	rules := cfg.Pipeline.RulesPath
	if rules == "" {
		rules = "built-in"
	}
	if _, err := manifest.Load(cfg.Pipeline.RulesPath); err != nil {
		rep.fail("cleaning rules", rules, err)
	} else {
		rep.pass("cleaning rules", rules)
	}

	if err := checkWritableDir(cfg.Storage.UploadDir); err != nil {
		rep.fail("upload directory", cfg.Storage.UploadDir, err)
	} else {
		rep.pass("upload directory", cfg.Storage.UploadDir)
	}

	out, err := outputLocation(cfg)
	if err == nil {
		err = checkOutputReachable(ctx, cfg, out)
	}
	if err != nil {
		rep.fail("output location", out.String(), err)
		if out.IsRemote() {
			printAWSCredentialsHelp()
		}
	} else {
		rep.pass("output location", out.String())
	}

	if doctorProvider == "s3" {
		log.Info("")
		log.Info("S3 Provider Checks:")
		runS3Checks(ctx, rep)
	}

	log.Info("")
	if rep.failed {
		log.Warn("⚠️  Some checks failed. Review the output above for details.")
	} else {
		log.Info("✅ All checks passed! Your " + banner + " installation is healthy.")
	}
	log.Info("=== End Diagnostics ===")
}

// checkWritableDir creates dir if needed and verifies a file can be written.
func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".airq-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func outputLocation(cfg *airqconfig.Config) (storage.Location, error) {
	if cfg.Storage.OutputURI != "" {
		return storage.ParseLocation(cfg.Storage.OutputURI)
	}
	return storage.ParseLocation(cfg.Storage.OutputDir)
}

// checkOutputReachable lists one key under the output location.
func checkOutputReachable(ctx context.Context, cfg *airqconfig.Config, dir storage.Location) error {
	if !dir.IsRemote() {
		return checkWritableDir(dir.Path)
	}
	resolver := storage.NewResolver(cfg.StorageResolverConfig(), observability.CLILogger)
	defer func() { _ = resolver.Close() }()

	st, prefix, err := resolver.Root(ctx, dir)
	if err != nil {
		return err
	}
	_, _, err = provider.First(ctx, st, prefix)
	return err
}

// runS3Checks resolves AWS credentials and queries instance metadata.
func runS3Checks(ctx context.Context, rep *doctorReport) {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		rep.fail("AWS credentials", "cannot load AWS config", err)
		printAWSCredentialsHelp()
		return
	}
	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		rep.fail("AWS credentials", "cannot retrieve credentials", err)
		printAWSCredentialsHelp()
		return
	}
	rep.pass("AWS credentials", "found", zap.String("access_key", maskAccessKey(creds.AccessKeyID)))

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	rep.pass("credential source", source)

	if region, ok := instanceRegion(ctx, imds.NewFromConfig(awsCfg)); ok {
		rep.pass("EC2 instance metadata", "region "+region)
	} else {
		rep.skip("EC2 instance metadata", "not on EC2")
	}
}

// regionGetter is the part of the IMDS client doctor needs.
type regionGetter interface {
	GetRegion(ctx context.Context, params *imds.GetRegionInput, optFns ...func(*imds.Options)) (*imds.GetRegionOutput, error)
}

// instanceRegion asks the instance metadata service for the region. Hosts
// outside EC2 time out quickly.
func instanceRegion(ctx context.Context, c regionGetter) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, imdsTimeout)
	defer cancel()
	out, err := c.GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil || out.Region == "" {
		return "", false
	}
	return out.Region, true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	log := observability.CLILogger
	log.Info("")
	log.Info("To configure AWS credentials:")
	log.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	log.Info("  2. Run 'aws configure' to set up a profile, or")
	log.Info("  3. Use IAM role when running on AWS infrastructure")
	log.Info("")
	log.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	log.Info("  - storage.s3.endpoint (AIRQ_S3_ENDPOINT) and storage.s3.force_path_style")
	log.Info("")
}
