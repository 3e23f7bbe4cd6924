package main

import "testing"

func TestBuildRootCmd_RegistersSubcommands(t *testing.T) {
	root := buildRootCmd()

	names := make(map[string]bool)
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"serve", "doctor"} {
		if !names[want] {
			t.Fatalf("expected %q subcommand to be registered, got %v", want, names)
		}
	}
}

func TestBuildServeCmd_DefaultFlags(t *testing.T) {
	cmd := buildServeCmd()

	cfg, err := cmd.Flags().GetString("config")
	if err != nil {
		t.Fatalf("reading config flag: %v", err)
	}
	if cfg != "portero.yaml" {
		t.Fatalf("expected default config flag %q, got %q", "portero.yaml", cfg)
	}

	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		t.Fatalf("reading debug flag: %v", err)
	}
	if debug {
		t.Fatal("expected debug flag to default to false")
	}
}

func TestBuildDoctorCmd_DefaultFlags(t *testing.T) {
	cmd := buildDoctorCmd()

	qr, err := cmd.Flags().GetBool("qr")
	if err != nil {
		t.Fatalf("reading qr flag: %v", err)
	}
	if !qr {
		t.Fatal("expected qr flag to default to true")
	}
}
