package main

import (
	"testing"

	"audio-analyser/internal/models"
)

func TestSelectKinds(t *testing.T) {
	kinds, err := selectKinds("", true, true)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != models.KindTranscription || kinds[1] != models.KindAnalysis {
		t.Fatalf("unexpected kinds %v", kinds)
	}

	kinds, err = selectKinds("translation", false, false)
	if err != nil || len(kinds) != 1 || kinds[0] != models.KindTranslation {
		t.Fatalf("unexpected kinds %v err=%v", kinds, err)
	}

	if _, err := selectKinds("", false, false); err == nil {
		t.Fatalf("expected error when nothing selected")
	}
	if _, err := selectKinds("video", false, false); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}
