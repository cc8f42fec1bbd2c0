// Package config provides interactive setup functionality.
package config

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// Setup runs an interactive setup to create a node configuration.
// It prompts the user for all configuration values and saves the result to the given path.
func Setup(path string) (*Config, error) {
	return setup(os.Stdin, os.Stdout, path)
}

func setup(in io.Reader, out io.Writer, path string) (*Config, error) {
	p := &prompter{r: bufio.NewReader(in), w: out}
	fmt.Fprintln(out, "=== Node Configuration Setup ===")
	fmt.Fprintln(out)

	cfg := Default()

	fmt.Fprintln(out, "--- Node ---")
	cfg.Node.ID = uint32(p.promptInt("Node id (non-zero, unique per node)", int64(os.Getpid()), 1, math.MaxUint32))
	fmt.Fprintln(out)

	fmt.Fprintln(out, "--- Registry ---")
	cfg.Registry.ConsoleGroup = p.promptString("Console group", DefaultConsoleGroup)
	cfg.Registry.AddressRange = p.promptString("Channel address range", DefaultAddressRange)
	cfg.Registry.PortBase = uint16(p.promptInt("Channel port base", DefaultPortBase, 1, math.MaxUint16))
	cfg.Registry.MulticastTTL = int(p.promptInt("Multicast TTL", DefaultMulticastTTL, 1, 255))
	cfg.Registry.Interface = p.promptString("Multicast interface (optional, press Enter to skip)", "")
	cfg.Registry.Autostart = p.promptBool("Start allocation on launch (y/n)", true)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "--- Channels ---")
	channelsInput := p.promptString("Static channels as iface:frequency:bandwidth (comma-separated, optional)", "")
	if channelsInput != "" {
		for _, s := range parseStringSlice(channelsInput) {
			ch, err := parseChannel(s)
			if err != nil {
				return nil, err
			}
			cfg.Channels = append(cfg.Channels, ch)
		}
	}
	fmt.Fprintln(out)

	cfg.Log.Level = p.promptChoice("Log level", []string{"error", "warn", "info", "debug", "trace"}, DefaultLogLevel)
	fmt.Fprintln(out)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintf(out, "Saving configuration to %s...\n", path)
	if err := SaveConfig(cfg, path); err != nil {
		return nil, fmt.Errorf("save config: %w", err)
	}
	fmt.Fprintln(out, "Configuration saved successfully!")
	fmt.Fprintln(out)

	return cfg, nil
}

// SaveConfig saves a Config to a YAML file.
func SaveConfig(cfg *Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	defer encoder.Close()
	if err := encoder.Encode(cfg); err != nil {
		return err
	}
	return nil
}

type prompter struct {
	r *bufio.Reader
	w io.Writer
}

func (p *prompter) readLine() (string, bool) {
	input, err := p.r.ReadString('\n')
	if err != nil && input == "" {
		if err != io.EOF {
			fmt.Fprintf(p.w, "Error reading input: %v\n", err)
		}
		return "", false
	}
	return strings.TrimSpace(input), true
}

// promptString prompts for a string value with a default.
func (p *prompter) promptString(prompt string, defaultVal string) string {
	defaultText := ""
	if defaultVal != "" {
		defaultText = fmt.Sprintf(" [%s]", defaultVal)
	}
	fmt.Fprintf(p.w, "%s%s: ", prompt, defaultText)

	input, ok := p.readLine()
	if !ok || input == "" {
		return defaultVal
	}
	return input
}

// promptInt prompts for an integer in [lo, hi] with a default.
func (p *prompter) promptInt(prompt string, defaultVal, lo, hi int64) int64 {
	fmt.Fprintf(p.w, "%s [%d]: ", prompt, defaultVal)

	input, ok := p.readLine()
	if !ok || input == "" {
		return defaultVal
	}

	val, err := strconv.ParseInt(input, 10, 64)
	if err != nil {
		fmt.Fprintf(p.w, "Invalid integer, using default %d\n", defaultVal)
		return defaultVal
	}
	if val < lo || val > hi {
		fmt.Fprintf(p.w, "Value out of range %d-%d, using default %d\n", lo, hi, defaultVal)
		return defaultVal
	}
	return val
}

// promptChoice prompts for a choice from a list of options with a default.
func (p *prompter) promptChoice(prompt string, choices []string, defaultVal string) string {
	choicesText := strings.Join(choices, "/")
	fmt.Fprintf(p.w, "%s (%s) [%s]: ", prompt, choicesText, defaultVal)

	input, ok := p.readLine()
	if !ok || input == "" {
		return defaultVal
	}

	for _, choice := range choices {
		if strings.EqualFold(input, choice) {
			return choice
		}
	}

	fmt.Fprintf(p.w, "Invalid choice, using default %s\n", defaultVal)
	return defaultVal
}

// promptBool prompts for a boolean value (y/n) with a default.
func (p *prompter) promptBool(prompt string, defaultVal bool) bool {
	defaultText := "n"
	if defaultVal {
		defaultText = "y"
	}
	fmt.Fprintf(p.w, "%s [%s]: ", prompt, defaultText)

	input, ok := p.readLine()
	if !ok || input == "" {
		return defaultVal
	}
	input = strings.ToLower(input)
	return input == "y" || input == "yes"
}

// parseStringSlice parses a comma-separated string into a slice of strings.
func parseStringSlice(input string) []string {
	parts := strings.Split(input, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// parseChannel parses "iface:frequency:bandwidth".
func parseChannel(s string) (Channel, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return Channel{}, fmt.Errorf("channel %q: want iface:frequency:bandwidth", s)
	}
	var vals [3]uint32
	for i, part := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return Channel{}, fmt.Errorf("channel %q: %w", s, err)
		}
		vals[i] = uint32(v)
	}
	return Channel{Interface: vals[0], Frequency: vals[1], Bandwidth: vals[2]}, nil
}
