package catalog

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "spaces", in: "some name", want: "some-name"},
		{name: "updated", in: "some updated name", want: "some-updated-name"},
		{name: "case and punctuation", in: "Just Chatting!!", want: "just-chatting"},
		{name: "whitespace runs", in: "  Retro \t  Games  ", want: "retro-games"},
		{name: "accents folded", in: "Café Música", want: "cafe-musica"},
		{name: "existing hyphens collapse", in: "sci - fi", want: "sci-fi"},
		{name: "digits and underscore", in: "Top_10 Picks", want: "top_10-picks"},
		{name: "symbols only", in: "@@@", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.in))
		})
	}
}

func TestSlugifyIsDeterministic(t *testing.T) {
	assert.Equal(t, Slugify("Speed Runs"), Slugify("Speed Runs"))
}

func TestSlugifyConcurrentCallers(t *testing.T) {
	names := []string{"Café Música", "Jeux Vidéo", "Speed Runs", "Ñandú Çava Über"}
	want := make([]string, len(names))
	for i, name := range names {
		want[i] = Slugify(name)
	}

	var wg sync.WaitGroup
	errs := make(chan string, 16)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				idx := (g + i) % len(names)
				if got := Slugify(names[idx]); got != want[idx] {
					errs <- fmt.Sprintf("Slugify(%q) = %q, want %q", names[idx], got, want[idx])
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Error(msg)
	}
}
