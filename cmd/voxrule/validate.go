package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"voxelrule.ai/internal/model"
	"voxelrule.ai/internal/sim/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [model.yaml...]",
	Short: "Check model files, or every model of a run list",
	Long: `Validate loads each model, checks it against the model schema and builds
its node tree at the model's size. Without arguments it validates the run
list named by --batch and every model it references.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		paths := args
		if len(paths) == 0 {
			b, err := model.LoadBatch(viper.GetString("batch"))
			if err != nil {
				return err
			}
			for _, s := range b.Models {
				paths = append(paths, b.Path(s))
			}
		}
		bad := 0
		for _, p := range paths {
			if err := validateModel(p); err != nil {
				bad++
				fmt.Fprintf(os.Stdout, "FAIL %s: %v\n", p, err)
				continue
			}
			fmt.Fprintf(os.Stdout, "ok   %s\n", p)
		}
		if bad > 0 {
			return fmt.Errorf("%d of %d models invalid", bad, len(paths))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().String("batch", "models.yaml", "models.yaml run list, used when no model file is given")
}

func validateModel(path string) error {
	m, err := model.Load(path)
	if err != nil {
		return err
	}
	_, err = engine.New(m, 0, 0, 0, engine.Options{})
	return err
}
