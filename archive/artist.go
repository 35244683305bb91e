package archive

import (
	"strings"

	"github.com/jacentio/setlist/entity"
)

// Artist is a person credited on pieces. The key is "Surname, Forename", or
// whichever of the two is set.
type Artist struct {
	entity.Base
	forename string
	surname  string
}

// NewArtist attaches a new artist to g.
func NewArtist(g *entity.Graph, forename, surname string) (*Artist, error) {
	return keyed(g, TypeArtist, func(a *Artist) error { return a.SetNames(forename, surname) })
}

// Forename returns the artist's forename.
func (a *Artist) Forename() string { return a.forename }

// Surname returns the artist's surname.
func (a *Artist) Surname() string { return a.surname }

// FullName returns "Forename Surname".
func (a *Artist) FullName() string {
	return strings.TrimSpace(a.forename + " " + a.surname)
}

// SetNames renames the artist.
func (a *Artist) SetNames(forename, surname string) error {
	forename, surname = strings.TrimSpace(forename), strings.TrimSpace(surname)
	if err := a.SetSimpleKey(artistKey(forename, surname)); err != nil {
		return err
	}
	a.forename, a.surname = forename, surname
	return nil
}

// Credits returns the artist's credits.
func (a *Artist) Credits() []*Credit { return childrenOf[*Credit](&a.Base, TypeCredit) }

// Attrs implements entity.Attributer.
func (a *Artist) Attrs() map[string]string {
	return map[string]string{"forename": a.forename, "surname": a.surname}
}

// RestoreAttrs implements entity.Attributer.
func (a *Artist) RestoreAttrs(attrs map[string]string) error {
	a.forename, a.surname = attrs["forename"], attrs["surname"]
	return nil
}

func artistKey(forename, surname string) string {
	switch {
	case surname == "":
		return forename
	case forename == "":
		return surname
	}
	return surname + ", " + forename
}
