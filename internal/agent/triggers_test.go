package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	database "github.com/opsdeck/opsdeck-backend/internal"
)

func TestResolveDir(t *testing.T) {
	wd := "/srv/agents/build"
	pp := "/srv/projects/api"

	assert.Equal(t, wd, resolveDir(database.Agent{WorkingDir: &wd}, &pp))
	assert.Equal(t, pp, resolveDir(database.Agent{}, &pp))
	assert.Equal(t, "", resolveDir(database.Agent{}, nil))

	empty := ""
	assert.Equal(t, pp, resolveDir(database.Agent{WorkingDir: &empty}, &pp))
}

func TestMatchesTrigger(t *testing.T) {
	ft := &fileTrigger{dir: "/srv/projects/api", glob: "*.go"}

	assert.True(t, matchesTrigger(ft, "/srv/projects/api/main.go"))
	assert.True(t, matchesTrigger(ft, "/srv/projects/api/sub/handler.go"))
	assert.False(t, matchesTrigger(ft, "/srv/projects/api/readme.md"))
	assert.False(t, matchesTrigger(ft, "/srv/other/main.go"))
}

func TestMatchesTrigger_DefaultGlob(t *testing.T) {
	ft := &fileTrigger{dir: "/data", glob: "*"}
	assert.True(t, matchesTrigger(ft, "/data/anything.txt"))
	assert.False(t, matchesTrigger(ft, "/elsewhere/anything.txt"))
}
