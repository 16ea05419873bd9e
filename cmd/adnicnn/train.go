package main

import (
	"log"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"adnicnn/adni"
	flow "adnicnn/src"
)

func newTrainCmd(configFile *string) *cobra.Command {
	def := adni.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train one CNN per run index, skipping runs that already have a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newViper(cmd, *configFile)
			if err != nil {
				return err
			}
			cfg, err := trainConfig(v)
			if err != nil {
				return err
			}
			if w := v.GetInt("workers"); w > 0 {
				flow.SetWorkers(w)
			}

			exp, err := adni.NewExperiment(cfg, nil)
			if err != nil {
				return err
			}
			outcomes, err := exp.Run(cmd.Context())
			trained, skipped := 0, 0
			for _, o := range outcomes {
				if o.Skipped {
					skipped++
				} else {
					trained++
				}
			}
			cfg.Logger.Printf("%d runs trained, %d skipped", trained, skipped)
			return err
		},
	}

	f := cmd.Flags()
	f.IntP("gpu", "g", def.GPU, "GPU to use (logged only; training runs on the CPU)")
	f.Float64P("ratio", "r", def.Ratio, "ratio of the protected group in the training set")
	f.IntSliceP("run_idces", "i", def.RunIndices, "run indices to iterate over")
	f.StringP("export_path", "e", "", "write the resolved subject manifest to this CSV")
	f.IntP("fold", "f", def.Fold, "cross-validation fold")
	f.StringP("test", "t", "false", "blank the protected group's AD volumes to test the pipeline")
	f.IntP("split_var", "s", def.SplitVar, "split variable: 0 = Sex, 1 = AgeGroup")
	f.StringP("feature_csv_dir", "a", "", "directory holding "+adni.MetadataFile)
	f.StringP("split_dir", "d", def.SplitDir, "directory of split CSVs")
	f.StringP("log_dir", "l", def.LogDir, "metrics log directory")
	f.StringP("chkpt_dir", "c", def.ChkptDir, "checkpoint directory")

	f.StringSlice("image_dirs", def.ImageDirs, "volume directories, searched in order")
	f.IntSlice("input_shape", def.InputShape, "volume size D,H,W fed to the network")
	f.Int("max_epochs", def.Train.MaxEpochs, "maximum training epochs")
	f.Int("batch_size", def.Train.BatchSize, "batch size")
	f.Int("precision", def.Train.Precision, "16 or 32 (16 runs as 32)")
	f.Int64("seed", def.Seed, "random seed; each run adds its index")
	f.Int("workers", 0, "conv worker goroutines (0 = logical cores)")
	f.BoolP("verbose", "v", false, "log per-epoch metrics")
	return cmd
}

func trainConfig(v *viper.Viper) (adni.Config, error) {
	cfg := adni.DefaultConfig()

	fake, err := parseBool(v.GetString("test"))
	if err != nil {
		return cfg, errors.Wrap(err, "--test")
	}

	runs, err := intSlice(v, "run_idces")
	if err != nil {
		return cfg, err
	}
	shape, err := intSlice(v, "input_shape")
	if err != nil {
		return cfg, err
	}

	cfg.GPU = v.GetInt("gpu")
	cfg.Ratio = v.GetFloat64("ratio")
	cfg.RunIndices = runs
	cfg.ExportPath = v.GetString("export_path")
	cfg.Fold = v.GetInt("fold")
	cfg.FakeDiffs = fake
	cfg.SplitVar = v.GetInt("split_var")
	cfg.FeatureCSVDir = v.GetString("feature_csv_dir")
	cfg.SplitDir = v.GetString("split_dir")
	cfg.LogDir = v.GetString("log_dir")
	cfg.ChkptDir = v.GetString("chkpt_dir")
	cfg.ImageDirs = cast.ToStringSlice(listValue(v.Get("image_dirs")))
	cfg.InputShape = shape
	cfg.Seed = v.GetInt64("seed")
	cfg.Train.MaxEpochs = v.GetInt("max_epochs")
	cfg.Train.BatchSize = v.GetInt("batch_size")
	cfg.Train.Precision = v.GetInt("precision")

	cfg.Verbose = v.GetBool("verbose")
	cfg.Logger = log.New(os.Stderr, "adnicnn: ", log.LstdFlags)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// listValue splits a comma-separated string, which is how list keys arrive
// from the environment. Flag and config file values pass through.
func listValue(raw interface{}) interface{} {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intSlice(v *viper.Viper, key string) ([]int, error) {
	out, err := cast.ToIntSliceE(listValue(v.Get(key)))
	if err != nil {
		return nil, errors.Wrapf(err, "--%s", key)
	}
	return out, nil
}

// parseBool accepts y/yes/t/true/on/1 and n/no/f/false/off/0 in any case.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "t", "true", "on", "1":
		return true, nil
	case "n", "no", "f", "false", "off", "0":
		return false, nil
	}
	return false, errors.Errorf("invalid truth value %q", s)
}
