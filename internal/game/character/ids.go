package character

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// idNamespace scopes identifiers derived for items created during advancement.
var idNamespace = uuid.MustParse("6f1c3a52-8e0b-4d5e-9a37-2c41b0e7d9f4")

// NewID returns a random identifier for a new document.
func NewID() string {
	return uuid.NewString()
}

// DerivedID returns an identifier that is stable for the same inputs. Items granted
// by an advancement get the same ID each time the advancement is applied, so a
// clone and the eventual persisted item agree on it across retreat and re-advance.
func DerivedID(parentItemID, advancementID string, level int, key string) string {
	name := strings.Join([]string{parentItemID, advancementID, strconv.Itoa(level), key}, "/")
	return uuid.NewSHA1(idNamespace, []byte(name)).String()
}
