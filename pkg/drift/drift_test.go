package drift

import "testing"

func TestCheck_MetaCommentaryDetected(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	res := d.Check("The answer is 42. As an AI language model, I cannot actually verify this.")

	if !res.Detected {
		t.Fatal("expected detection")
	}
	if !containsType(res.Types, TypeMetaCommentary) {
		t.Errorf("expected meta_commentary in %v", res.Types)
	}
}

func TestCheck_RepetitionDetected(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	res := d.Check("This is a test. This is a test. This is a test.")

	if !containsType(res.Types, TypeRepetition) {
		t.Errorf("expected repetition in %v", res.Types)
	}
}

func TestCheck_FormatCollapseDetected(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	res := d.Check("Here is the information you requested about the topic at hand.")

	if !containsType(res.Types, TypeFormatCollapse) {
		t.Errorf("expected format_collapse in %v", res.Types)
	}
}

func TestCheck_HedgingDetected(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	res := d.Check("maybe this is correct but I am not fully certain")

	if !containsType(res.Types, TypeHedging) {
		t.Errorf("expected hedging in %v", res.Types)
	}
}

func TestCheck_MarkdownCollapseDetected(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	d.Check("# Heading\n- item one\n- item two\n- item three\n- item four\n")
	res := d.Check("just plain prose with no structure at all")

	if !containsType(res.Types, TypeMarkdownCollapse) {
		t.Errorf("expected markdown_collapse in %v", res.Types)
	}
}

func TestCheck_ToneShiftDetected(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	formal := "Furthermore, therefore, accordingly, the matter shall pursuant be resolved."
	informal := "yeah gonna wanna kinda sorta dude hey lol"

	d.Check(formal)
	res := d.Check(formal + " " + informal)

	if !containsType(res.Types, TypeToneShift) {
		t.Errorf("expected tone_shift in %v", res.Types)
	}
}

func TestCheck_EntropySpikeDetected(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	for i := 0; i < 10; i++ {
		d.ObserveToken("aa")
	}
	d.ObserveToken("qwxzjkvbpfy#@!%^&*()_+-=~`")

	res := d.Check("irrelevant content")
	if !containsType(res.Types, TypeEntropySpike) {
		t.Errorf("expected entropy_spike in %v", res.Types)
	}
}

func TestCheck_CleanContentNotDetected(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	res := d.Check("The capital of France is Paris. It has a population of over two million people.")

	if res.Detected {
		t.Errorf("did not expect detection, got %v", res.Types)
	}
	if res.Confidence != 0 {
		t.Errorf("expected zero confidence, got %f", res.Confidence)
	}
}

func TestCheck_ConfidenceIsMaxOfFiredPriors(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	res := d.Check("maybe. As an AI language model, I cannot actually verify this.")

	if res.Confidence != priors[TypeMetaCommentary] {
		t.Errorf("expected confidence %f, got %f", priors[TypeMetaCommentary], res.Confidence)
	}
}

func TestCheck_IdempotentWithoutNewState(t *testing.T) {
	t.Parallel()

	d := New(DefaultOptions())
	first := d.Check("This is a test. This is a test. This is a test.")
	second := d.Check("This is a test. This is a test. This is a test.")

	if first.Detected != second.Detected {
		t.Error("expected repeated Check calls with identical content to agree")
	}
}

func containsType(types []Type, target Type) bool {
	for _, ty := range types {
		if ty == target {
			return true
		}
	}
	return false
}
