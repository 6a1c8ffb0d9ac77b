package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/nandivision/internal/breeds"
	"github.com/example/nandivision/internal/classifier"
	"github.com/example/nandivision/internal/intake"
	"github.com/example/nandivision/internal/preview"
	"github.com/example/nandivision/internal/session"
)

var (
	classifyClassifierURL string
	classifyOutput        string
)

var classifyCmd = &cobra.Command{
	Use:   "classify <image>",
	Short: "Classify one image file and print the result",
	Long: `Runs a single classification session for a local image file.

The media type is detected from the file contents. The same validation as the
HTTP front end applies: only images under 1MB are sent.

Example: nandivision classify --output json cow.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		if classifyClassifierURL != "" {
			cfg.ClassifierURL = classifyClassifierURL
		}

		ctx := commandContext(cmd)
		catalog, err := breeds.Load(ctx, breeds.Source{File: cfg.BreedsFile, DatabaseDSN: cfg.BreedsDatabaseDSN}, logger)
		if err != nil {
			return err
		}

		client := classifier.NewHTTPClient(cfg.ClassifierURL, cfg.ClassifierTimeout, logger)
		view, err := classifyFile(ctx, args[0], client, catalog, logger)
		if err != nil {
			return err
		}
		return renderView(cmd.OutOrStdout(), view, classifyOutput)
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyClassifierURL, "classifier-url", "", "overrides CLASSIFIER_URL")
	classifyCmd.Flags().StringVarP(&classifyOutput, "output", "o", "text", "output format: text or json")
}

// classifyFile drives one session from selection to a terminal state.
func classifyFile(ctx context.Context, path string, client classifier.Client, catalog *breeds.Catalog, logger *zap.Logger) (session.View, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return session.View{}, fmt.Errorf("read image: %w", err)
	}
	mediaType := mimetype.Detect(data).String()

	s := session.New("cli", session.Dependencies{
		Previews:   preview.NewMemoryStore(),
		Classifier: client,
		Catalog:    catalog,
		Logger:     logger,
	})
	defer s.Close(context.Background())

	if _, err := s.SelectImage(ctx, intake.Candidate{
		Filename:  filepath.Base(path),
		MediaType: mediaType,
		Data:      data,
	}); err != nil {
		return session.View{}, err
	}

	done, started := s.Submit(ctx)
	if !started {
		return s.View(), fmt.Errorf("session not ready: %s", s.State())
	}
	select {
	case <-done:
	case <-ctx.Done():
		return s.View(), ctx.Err()
	}
	return s.View(), nil
}

func renderView(w io.Writer, view session.View, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	case "text", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if view.State == session.Failed {
		fmt.Fprintf(w, "Error: %s\n", view.Error)
		return nil
	}
	r := view.Result
	if r == nil {
		fmt.Fprintf(w, "State: %s\n", view.State)
		return nil
	}
	if r.NotCattle {
		fmt.Fprintf(w, "The uploaded image is not of cattle. (confidence %.1f%%)\n", r.TypeConfidence*100)
		return nil
	}

	fmt.Fprintf(w, "Type:  %s (%.1f%%)\n", r.Type, r.TypeConfidence*100)
	if r.BreedConfidence != nil {
		fmt.Fprintf(w, "Breed: %s (%.1f%%)\n", r.Breed, *r.BreedConfidence*100)
	}
	if r.LowConfidence {
		fmt.Fprintln(w, "Warning: low confidence, the model has limited training data for this breed.")
	}
	if info := view.BreedInfo; info != nil {
		fmt.Fprintf(w, "\nOrigin:           %s\n", info.Origin)
		fmt.Fprintf(w, "Milk production:  %s\n", info.MilkProduction)
		fmt.Fprintf(w, "Horn type:        %s\n", info.HornType)
		fmt.Fprintf(w, "Body features:    %s\n", info.BodyFeatures)
		fmt.Fprintf(w, "Recommended feed: %s\n", info.RecommendedFeed)
	}
	return nil
}
