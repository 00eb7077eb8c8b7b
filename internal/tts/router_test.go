package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/loqalabs/loqa-narrator/internal/language"
)

type fakeLocal struct {
	available bool
	languages map[language.Language]bool
	calls     int
	result    Result
	err       error
}

func (f *fakeLocal) Generate(ctx context.Context, text, voice string) (Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeLocal) Voices() []string                     { return []string{"af_heart"} }
func (f *fakeLocal) Available() bool                      { return f.available }
func (f *fakeLocal) Supports(lang language.Language) bool { return f.available && f.languages[lang] }

type fakeRemote struct {
	calls  int
	result Result
	err    error
}

func (f *fakeRemote) Generate(ctx context.Context, text, voice string) (Result, error) {
	f.calls++
	return f.result, f.err
}

func (f *fakeRemote) Voices() []string { return []string{"zundamon"} }

func TestResolve(t *testing.T) {
	englishOnly := &fakeLocal{available: true, languages: map[language.Language]bool{language.Other: true}}
	multilingual := &fakeLocal{available: true, languages: map[language.Language]bool{language.Other: true, language.Japanese: true}}
	missing := &fakeLocal{}

	cases := []struct {
		name    string
		local   LocalBackend
		remote  Generator
		lang    language.Language
		want    Backend
		wantErr bool
	}{
		{name: "other uses local", local: englishOnly, remote: &fakeRemote{}, lang: language.Other, want: BackendLocal},
		{name: "other without model", local: missing, remote: &fakeRemote{}, lang: language.Other, wantErr: true},
		{name: "other with nil local", local: nil, lang: language.Other, wantErr: true},
		{name: "japanese uses remote", local: multilingual, remote: &fakeRemote{}, lang: language.Japanese, want: BackendRemote},
		{name: "japanese falls to capable local", local: multilingual, lang: language.Japanese, want: BackendLocal},
		{name: "japanese without capable backend", local: englishOnly, lang: language.Japanese, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(tc.local, tc.remote, testLogger())
			route, err := router.Resolve(tc.lang)
			if tc.wantErr {
				if !errors.Is(err, ErrBackendUnavailable) {
					t.Fatalf("expected ErrBackendUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if route.Backend != tc.want || route.Language != tc.lang {
				t.Fatalf("route = %+v, want backend %s", route, tc.want)
			}
		})
	}
}

func TestSynthesizeRemoteFailureDoesNotFallBack(t *testing.T) {
	remoteErr := &NetworkError{Phase: PhaseSynthesis, Err: context.DeadlineExceeded}
	local := &fakeLocal{
		available: true,
		languages: map[language.Language]bool{language.Other: true, language.Japanese: true},
		result:    Result{Audio: []byte("local"), AudioLengthSeconds: 1},
	}
	remote := &fakeRemote{err: remoteErr}
	router := NewRouter(local, remote, testLogger())

	result, route, err := router.Synthesize(context.Background(), NewRequest("こんにちは", "zundamon"))
	if err != remoteErr {
		t.Fatalf("expected the remote error unchanged, got %v", err)
	}
	if route.Backend != BackendRemote {
		t.Fatalf("expected remote route, got %s", route.Backend)
	}
	if result.Audio != nil {
		t.Fatal("expected no audio")
	}
	if local.calls != 0 {
		t.Fatalf("local backend invoked %d times", local.calls)
	}
	if remote.calls != 1 {
		t.Fatalf("remote backend invoked %d times", remote.calls)
	}
}

func TestSynthesizeRoutesByLanguage(t *testing.T) {
	local := &fakeLocal{available: true, languages: map[language.Language]bool{language.Other: true}, result: Result{Audio: []byte("l")}}
	remote := &fakeRemote{result: Result{Audio: []byte("r")}}
	router := NewRouter(local, remote, testLogger())

	result, route, err := router.Synthesize(context.Background(), Request{Text: "Hello there."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if route.Backend != BackendLocal || route.Language != language.Other || string(result.Audio) != "l" {
		t.Fatalf("unexpected result %q via %+v", result.Audio, route)
	}

	result, route, err = router.Synthesize(context.Background(), NewRequest("カタカナ", ""))
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if route.Backend != BackendRemote || string(result.Audio) != "r" {
		t.Fatalf("unexpected result %q via %+v", result.Audio, route)
	}
}

func TestSynthesizeLocalErrorPropagates(t *testing.T) {
	localErr := &SynthesisError{Op: "generate", Err: ErrModelNotInitialized}
	local := &fakeLocal{available: true, languages: map[language.Language]bool{language.Other: true}, err: localErr}
	router := NewRouter(local, nil, testLogger())

	_, _, err := router.Synthesize(context.Background(), NewRequest("hello", ""))
	if err != localErr {
		t.Fatalf("expected local error unchanged, got %v", err)
	}
}

func TestRouterVoices(t *testing.T) {
	local := &fakeLocal{available: true}
	if got := NewRouter(local, &fakeRemote{}, testLogger()).Voices(); len(got) != 1 || got[0] != "zundamon" {
		t.Fatalf("expected remote voices, got %v", got)
	}
	if got := NewRouter(local, nil, testLogger()).Voices(); len(got) != 1 || got[0] != "af_heart" {
		t.Fatalf("expected local voices, got %v", got)
	}
	var unavailable *LocalSynthesizer
	if got := NewRouter(unavailable, nil, testLogger()).Voices(); got != nil {
		t.Fatalf("expected no voices, got %v", got)
	}
}
