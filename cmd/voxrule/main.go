// Command voxrule runs grid rewriting models, streams them to observers and
// inspects what they leave on disk.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	logger  = log.New(os.Stderr, "[voxrule] ", log.LstdFlags|log.Lmicroseconds)
)

var rootCmd = &cobra.Command{
	Use:   "voxrule",
	Short: "voxrule - grid rewriting models",
	Long: `voxrule executes rule-based grid rewriting models (one/all/prl rules,
markov and sequence trees, path, map, convolution, convchain and wfc nodes)
and records their frames, snapshots and run index under the data directory.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return viper.BindPFlags(cmd.Flags())
	},
}

func main() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(replayCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./voxrule.yaml)")
	pf.String("data-dir", "", "runtime data directory (default: tuning data_dir)")
	pf.String("tuning", "", "path to tuning.yaml (default: built-in tuning)")
	pf.String("palette", "", "path to palette.json")
	pf.Bool("no-index", false, "disable the sqlite run index")
	pf.Bool("no-archive", false, "do not archive final snapshots per model, size and seed")
	pf.String("mirror-endpoint", "", "S3-compatible endpoint to mirror snapshots and frame logs to")
	pf.String("mirror-bucket", "", "mirror bucket")
	pf.String("mirror-region", "auto", "mirror signing region")
	pf.String("mirror-prefix", "", "object key prefix")
	pf.Int("mirror-workers", 2, "concurrent mirror uploads")
	// mirror-access-key-id and mirror-secret-access-key come from the config
	// file or VOXRULE_MIRROR_ACCESS_KEY_ID / VOXRULE_MIRROR_SECRET_ACCESS_KEY.
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("voxrule")
	}

	viper.SetEnvPrefix("VOXRULE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		logger.Printf("using config file %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		logger.Printf("read config %s: %v", cfgFile, err)
	}
}
