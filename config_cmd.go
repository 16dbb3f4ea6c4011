package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/dacbuione/chinese-learning-sub000/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Hidden:  false,
	Short:   "Edit the tingshuo config file",
	Long:    paragraph(fmt.Sprintf("\n%s the tingshuo config file. We’ll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.", keyword("Edit"))),
	Example: paragraph("tingshuo config\ntingshuo config --config path/to/config.yml"),
	Args:    cobra.NoArgs,
	// the file being edited may not parse yet
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("tingshuo", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		// report problems now rather than on the next run
		check := config.New()
		if _, err := config.Read(check, configFile); err != nil {
			return err
		}
		if _, err := config.Load(check, config.Secrets{}); err != nil {
			return err
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		dirs, err := config.Dirs()
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			return errors.New("could not find configuration directory")
		}
		configFile = filepath.Join(dirs[0], config.AppName+".yml")
	}

	expanded, err := homedir.Expand(configFile)
	if err != nil {
		return err
	}
	configFile = expanded

	switch filepath.Ext(configFile) {
	case ".yml", ".yaml":
	default:
		return fmt.Errorf("%q is not a YAML file: use a .yml or .yaml extension", configFile)
	}

	_, err = os.Stat(configFile)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("unable to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}
	// O_EXCL keeps a file created concurrently by another run
	f, err := os.OpenFile(configFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to create config file: %w", err)
	}
	if _, err := f.WriteString(config.DefaultYAML); err != nil {
		_ = f.Close()
		return fmt.Errorf("unable to write config file: %w", err)
	}
	return f.Close()
}
