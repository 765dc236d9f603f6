// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
	"time"
)

type linkReport struct {
	Link  string    `cbor:"link"`
	State string    `cbor:"state"`
	Since time.Time `cbor:"since"`
}

func TestMarshalIsDeterministic(t *testing.T) {
	first, err := Marshal(map[string]int{"zulu": 1, "alpha": 2, "mike": 3})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for attempt := 0; attempt < 20; attempt++ {
		again, err := Marshal(map[string]int{"mike": 3, "alpha": 2, "zulu": 1})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding differs between calls: %x vs %x", first, again)
		}
	}
}

func TestUnmarshalAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(linkReport{Link: "mesh", State: "connected"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if fields["state"] != "connected" {
		t.Errorf("state = %v, want connected", fields["state"])
	}
}

func TestStreamCarriesMultipleValues(t *testing.T) {
	since := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, link := range []string{"mesh", "discord"} {
		if err := encoder.Encode(linkReport{Link: link, State: "backoff", Since: since}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"mesh", "discord"} {
		var report linkReport
		if err := decoder.Decode(&report); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if report.Link != want || !report.Since.Equal(since) {
			t.Errorf("decoded %+v, want link %s since %v", report, want, since)
		}
	}
}
