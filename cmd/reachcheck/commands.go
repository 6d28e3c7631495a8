package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/danialdehvan/ReachCheck/pkg/classify"
	"github.com/danialdehvan/ReachCheck/pkg/config"
	"github.com/danialdehvan/ReachCheck/pkg/enrich"
	"github.com/danialdehvan/ReachCheck/pkg/firewall"
	"github.com/danialdehvan/ReachCheck/pkg/netinfo"
	"github.com/danialdehvan/ReachCheck/pkg/server"
)

// Overrides are flags shared by commands that read the configuration
type Overrides struct {
	Port     int    `help:"Port to listen on (default from config, 8090)" short:"p" env:"REACHCHECK_PORT"`
	RuleName string `help:"Firewall rule name" name:"rule-name" env:"REACHCHECK_RULE_NAME"`
}

// apply copies set flags into cfg. A firewall rule name still derived from
// the old port follows the new one.
func (o Overrides) apply(cfg *config.Config) {
	if o.Port != 0 {
		if cfg.FirewallRuleName == config.RuleNameFor(cfg.Port) {
			cfg.FirewallRuleName = config.RuleNameFor(o.Port)
		}
		cfg.Port = o.Port
	}
	if o.RuleName != "" {
		cfg.FirewallRuleName = o.RuleName
	}
}

func (a *App) configure(o Overrides) (*config.Config, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, usageErr(err)
	}
	return cfg, nil
}

// classifier builds the classifier and warns about rules that can never match
func (a *App) classifier(cfg *config.Config) *classify.Classifier {
	c := cfg.Classifier()
	for _, s := range c.Shadowed() {
		a.Log.Warnw("Classification rule can never match",
			"rule", s.Index, "prefix", s.Rule.Prefix, "label", s.Rule.Label,
			"shadowed_by", s.ByIndex, "by_prefix", s.By.Prefix)
	}
	return c
}

func (a *App) firewallManager() *firewall.Manager {
	return firewall.NewManager(a.Runner)
}

// probe wires the real collaborators into a diagnostics probe
func (a *App) probe(cfg *config.Config, c *classify.Classifier, portAvailable bool) (*server.Probe, func()) {
	enricher := enrich.New(cfg.GeoIPDir, cfg.DNSServers)
	if enricher.GeoIPEnabled() {
		a.Log.Infow("GeoIP enrichment enabled", "dir", cfg.GeoIPDir)
	}
	a.Log.Debugw("PTR resolvers", "servers", enricher.Servers())
	p := &server.Probe{
		Classifier:    c,
		Runner:        a.Runner,
		Discoverer:    netinfo.NewDiscoverer(a.Runner),
		Firewall:      a.firewallManager(),
		RuleName:      cfg.FirewallRuleName,
		Stun:          netinfo.NewStunClient(cfg.StunServers, cfg.Timeout()),
		Enricher:      enricher,
		Timeout:       cfg.Timeout(),
		PortAvailable: portAvailable,
		WireGuard:     netinfo.WireGuardDevices,
		Gateway:       netinfo.CheckGateway,
	}
	return p, enricher.Close
}

// DiagnoseCmd prints the same report /info serves
type DiagnoseCmd struct {
	Overrides
	JSON bool `help:"Print the report as JSON" name:"json"`
}

func (d *DiagnoseCmd) Run(app *App) error {
	cfg, err := app.configure(d.Overrides)
	if err != nil {
		return err
	}
	c := app.classifier(cfg)
	probe, closeProbe := app.probe(cfg, c, netinfo.PortAvailable(cfg.Port))
	defer closeProbe()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout()+time.Second)
	defer cancel()
	snap := probe.Snapshot(ctx, "")

	if d.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	fmt.Println(renderReport(snap, cfg.Port))
	return nil
}

// FirewallCmd groups the firewall subcommands
type FirewallCmd struct {
	Install FirewallInstallCmd `cmd:"" help:"Create the inbound allow rule (needs administrator rights)"`
	Status  FirewallStatusCmd  `cmd:"" help:"Show whether the inbound allow rule exists"`
}

type FirewallInstallCmd struct {
	Overrides
}

func (f *FirewallInstallCmd) Run(app *App) error {
	cfg, err := app.configure(f.Overrides)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout()*2)
	defer cancel()

	if err := app.firewallManager().InstallRule(ctx, cfg.FirewallRuleName, cfg.Port); err != nil {
		return fmt.Errorf("installing firewall rule %q: %w", cfg.FirewallRuleName, err)
	}
	app.Log.Infow("Firewall rule installed", "name", cfg.FirewallRuleName, "port", cfg.Port)
	return nil
}

type FirewallStatusCmd struct {
	Overrides
}

func (f *FirewallStatusCmd) Run(app *App) error {
	cfg, err := app.configure(f.Overrides)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout())
	defer cancel()

	st := app.firewallManager().Status(ctx, cfg.FirewallRuleName)
	switch {
	case st.Error != "":
		app.Log.Warnw("Could not check firewall rule", "name", st.Name, "error", st.Error)
	case st.Exists:
		app.Log.Infow("Firewall rule present", "name", st.Name)
	default:
		app.Log.Warnw("Firewall rule missing", "name", st.Name)
	}
	fmt.Println(st.Recommendation)
	return nil
}

// ClassifyCmd labels addresses given on the command line
type ClassifyCmd struct {
	Addresses []string `arg:"" name:"address" help:"Addresses to classify"`
}

func (c *ClassifyCmd) Run(app *App) error {
	cfg, err := app.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return usageErr(err)
	}
	cl := app.classifier(cfg)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, addr := range c.Addresses {
		fmt.Fprintf(w, "%s\t%s\n", addr, cl.Classify(server.ClientIP(addr)))
	}
	return w.Flush()
}
