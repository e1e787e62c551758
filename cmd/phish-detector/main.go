package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mikey/llm-phish-filter/internal/adapters/mailparse"
	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/mikey/llm-phish-filter/internal/di"
	"github.com/mikey/llm-phish-filter/internal/factory"
	"github.com/mikey/llm-phish-filter/internal/ports"
	"github.com/mikey/llm-phish-filter/internal/whitelist"
	"go.uber.org/zap"
)

func main() {
	flags, err := di.ParseFlags()
	if err != nil {
		fmt.Printf("Invalid arguments: %v\n", err)
		os.Exit(2)
	}

	// Build the dependency injection container
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	flags *di.CLIFlags,
	logger *zap.Logger,
	parser *mailparse.Parser,
	whitelistChecker *whitelist.Checker,
	emailFilter ports.EmailFilter,
	service *core.PhishingDetectionService,
	arbiter core.Arbiter,
	store factory.VerdictStore,
) error {
	defer logger.Sync()
	defer store.Stop()
	defer func() {
		if closer, ok := arbiter.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.Error("Failed to close arbiter client", zap.Error(err))
			}
		}
	}()

	// Read email from file or stdin
	var emailReader io.Reader = os.Stdin
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		emailReader = file
		logger.Info("Reading email from file", zap.String("file", flags.InputFile))
	} else {
		logger.Info("Reading email from stdin")
	}

	raw, err := io.ReadAll(emailReader)
	if err != nil {
		return fmt.Errorf("failed to read email: %w", err)
	}

	email, err := parser.Parse(raw, "", nil)
	if err != nil {
		return err
	}

	if whitelistChecker.Trusts(email) {
		fmt.Printf("Sender domain of %s is whitelisted, skipping analysis\n", email.From)
		return nil
	}

	if flags.JSONOutput {
		verdict, err := service.AnalyzeEmail(context.Background(), email)
		if verdict == nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(verdict); encErr != nil {
			return encErr
		}
		return err
	}

	_, err = emailFilter.ProcessEmail(context.Background(), email)
	return err
}
