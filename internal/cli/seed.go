package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"quiz-assessment-service/internal/config"
	"quiz-assessment-service/internal/domain"
	"quiz-assessment-service/internal/grading"
	infraredis "quiz-assessment-service/internal/infra/redis"
)

// fixtures is the layout of a seed file.
type fixtures struct {
	Quizzes []domain.Quiz `yaml:"quizzes"`
	Users   []domain.User `yaml:"users"`
}

// NewSeedCmd loads quizzes and users from a YAML file into the configured store.
func NewSeedCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load quizzes and users from a fixtures file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "config/seed.yaml", "path to YAML fixtures")
	return cmd
}

func runSeed(ctx context.Context, configPath, file string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	if cfg.Store.Driver == config.DriverMemory {
		return fmt.Errorf("seed needs a persistent store; the memory store loads fixtures on start")
	}

	data, err := loadFixtures(file)
	if err != nil {
		return err
	}

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer be.close()

	if err := applyFixtures(ctx, be.seeder, data); err != nil {
		return err
	}

	// Drop stale cached definitions of reseeded quizzes.
	if client := newRedisClient(cfg); client != nil {
		defer client.Close()
		cache := infraredis.NewQuizRepository(client, be.loader, 0, log)
		for _, quiz := range data.Quizzes {
			if err := cache.Invalidate(ctx, quiz.ID); err != nil {
				log.WithError(err).WithField("quiz_id", quiz.ID).Warn("invalidate cached quiz failed")
			}
		}
	}

	log.WithField("quizzes", len(data.Quizzes)).WithField("users", len(data.Users)).Info("fixtures seeded")
	return nil
}

func loadFixtures(path string) (fixtures, error) {
	var f fixtures
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("parse fixtures %s: %w", path, err)
	}
	return f, nil
}

func applyFixtures(ctx context.Context, s seeder, f fixtures) error {
	for _, quiz := range f.Quizzes {
		if quiz.ID == "" {
			return domain.NewValidationError("quizzes[].id", "is required")
		}
		if err := grading.Validate(quiz); err != nil {
			return fmt.Errorf("quiz %s: %w", quiz.ID, err)
		}
		if err := s.PutQuiz(ctx, quiz); err != nil {
			return err
		}
	}
	for _, user := range f.Users {
		if user.ID == "" {
			return domain.NewValidationError("users[].id", "is required")
		}
		if err := s.PutUser(ctx, user); err != nil {
			return err
		}
	}
	return nil
}
