package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseBool(t *testing.T) {
	for _, s := range []string{"y", "Yes", "t", "TRUE", "on", "1", " true "} {
		if v, err := parseBool(s); err != nil || !v {
			t.Errorf("parseBool(%q) = %v, %v", s, v, err)
		}
	}
	for _, s := range []string{"n", "No", "f", "False", "OFF", "0"} {
		if v, err := parseBool(s); err != nil || v {
			t.Errorf("parseBool(%q) = %v, %v", s, v, err)
		}
	}
	if _, err := parseBool("maybe"); err == nil {
		t.Error("parseBool(maybe) should fail")
	}
}

func TestTrainConfigFromFlags(t *testing.T) {
	t.Setenv("ADNICNN_FOLD", "3")

	var configFile string
	cmd := newTrainCmd(&configFile)
	err := cmd.Flags().Parse([]string{
		"-r", "0.25", "-i", "1,3", "-t", "yes", "-s", "1", "-c", "ck/", "--input_shape", "96,96,96",
	})
	if err != nil {
		t.Fatal(err)
	}
	v, err := newViper(cmd, configFile)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := trainConfig(v)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Ratio != 0.25 || !cfg.FakeDiffs || cfg.SplitVar != 1 || cfg.ChkptDir != "ck/" {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.RunIndices) != 2 || cfg.RunIndices[1] != 3 {
		t.Errorf("run indices = %v", cfg.RunIndices)
	}
	if cfg.Fold != 3 {
		t.Errorf("fold = %d, want 3 from the environment", cfg.Fold)
	}
	if cfg.InputShape[0] != 96 || cfg.Train.MaxEpochs != 200 {
		t.Errorf("shape %v, max epochs %d", cfg.InputShape, cfg.Train.MaxEpochs)
	}
}

func TestTrainConfigListsFromEnv(t *testing.T) {
	t.Setenv("ADNICNN_RUN_IDCES", "1,2")
	t.Setenv("ADNICNN_INPUT_SHAPE", "70, 71,72")
	t.Setenv("ADNICNN_IMAGE_DIRS", "a/,b/")

	var configFile string
	cmd := newTrainCmd(&configFile)
	if err := cmd.Flags().Parse(nil); err != nil {
		t.Fatal(err)
	}
	v, err := newViper(cmd, configFile)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := trainConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.RunIndices) != 2 || cfg.RunIndices[0] != 1 || cfg.RunIndices[1] != 2 {
		t.Errorf("run indices = %v", cfg.RunIndices)
	}
	if len(cfg.InputShape) != 3 || cfg.InputShape[0] != 70 || cfg.InputShape[2] != 72 {
		t.Errorf("input shape = %v", cfg.InputShape)
	}
	if len(cfg.ImageDirs) != 2 || cfg.ImageDirs[1] != "b/" {
		t.Errorf("image dirs = %v", cfg.ImageDirs)
	}
}

func TestTrainConfigRejectsBadValues(t *testing.T) {
	for _, args := range [][]string{
		{"-t", "perhaps"},
		{"-r", "1.5"},
		{"-s", "4"},
		{"--input_shape", "64,64"},
	} {
		var configFile string
		cmd := newTrainCmd(&configFile)
		if err := cmd.Flags().Parse(args); err != nil {
			t.Fatal(err)
		}
		v, err := newViper(cmd, configFile)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := trainConfig(v); err == nil {
			t.Errorf("%v: expected an error", args)
		}
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("ratio: 0.75\nmax_epochs: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	configFile := path
	cmd := newTrainCmd(&configFile)
	if err := cmd.Flags().Parse(nil); err != nil {
		t.Fatal(err)
	}
	v, err := newViper(cmd, configFile)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := trainConfig(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ratio != 0.75 || cfg.Train.MaxEpochs != 5 {
		t.Errorf("ratio %v, max epochs %d", cfg.Ratio, cfg.Train.MaxEpochs)
	}
}

func TestConcatCommand(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "ad.csv")
	b := filepath.Join(dir, "nc.csv")
	out := filepath.Join(dir, "out", "merged.csv")
	if err := os.WriteFile(a, []byte("Subject ID,Group\nS1,AD\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(b, []byte("Subject ID,Group\nS2,CN\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	root.SetArgs([]string{"concat", a, b, "-o", out, "--key", "Subject ID"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "Subject ID,Group\nS1,AD\nS2,CN\n" {
		t.Errorf("merged:\n%s", got)
	}

	root = newRootCmd()
	root.SetArgs([]string{"concat", a})
	if err := root.Execute(); err == nil {
		t.Error("concat with one file should fail")
	}
}
