package manifest

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// schema constrains every config file after decoding. Definitions are
// closed, so a field the schema does not name is rejected too.
const schema = `
#Hex: =~"^[0-9a-fA-F]*$"

#Config: {
	transforms?: {
		rename?:  bool
		flatten?: bool
		verify?:  bool
	}
	rename?: {
		naming?:   "random" | "seeded"
		seed?:     int & >=0
		length?:   int & >=2 & <=64
		preserve?: [...=~"^[A-Za-z_][A-Za-z0-9_]*$"]
	}
	flatten?: {
		seed?: int & >=0
	}
	loader?: {
		mode?:        "readable" | "loader"
		key?:         #Hex & (=~"^.{32}$" | =~"^.{48}$" | =~"^.{64}$")
		iv?:          #Hex & =~"^.{32}$"
		builder?:     "ox" | "go"
		entry?:       =~"^[A-Za-z_][A-Za-z0-9_]*$"
	}
	ledger?: {
		enabled?: bool
		path?:    string
	}
}
`

var configSchema cue.Value

func init() {
	ctx := cuecontext.New()
	v := ctx.CompileString(schema, cue.Filename("obfux.cue"))
	if v.Err() != nil {
		panic(fmt.Sprintf("manifest: bad embedded schema: %v", v.Err()))
	}
	configSchema = v.LookupPath(cue.ParsePath("#Config"))
}

// check validates c against the embedded schema. The config goes through
// JSON so that unset fields are left out rather than checked as zero values.
func check(c *Config) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	name := c.Path
	if name == "" {
		name = "config"
	}
	val := configSchema.Context().CompileBytes(data, cue.Filename(name))
	if val.Err() != nil {
		return val.Err()
	}
	return configSchema.Unify(val).Validate(cue.Concrete(true))
}
