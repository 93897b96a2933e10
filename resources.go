package holocron

import (
	"context"

	"github.com/holocron-labs/holocron/swapi"
)

// GetAllPeople returns every character.
func (c *Client) GetAllPeople(ctx context.Context) ([]swapi.Person, error) {
	return FetchAllPages[swapi.Person](ctx, c, swapi.ResourcePeople.Endpoint())
}

// GetAllPlanets returns every planet.
func (c *Client) GetAllPlanets(ctx context.Context) ([]swapi.Planet, error) {
	return FetchAllPages[swapi.Planet](ctx, c, swapi.ResourcePlanets.Endpoint())
}

// GetAllStarships returns every starship.
func (c *Client) GetAllStarships(ctx context.Context) ([]swapi.Starship, error) {
	return FetchAllPages[swapi.Starship](ctx, c, swapi.ResourceStarships.Endpoint())
}

// GetAllSpecies returns every species.
func (c *Client) GetAllSpecies(ctx context.Context) ([]swapi.Species, error) {
	return FetchAllPages[swapi.Species](ctx, c, swapi.ResourceSpecies.Endpoint())
}

// GetAllFilms returns every film.
func (c *Client) GetAllFilms(ctx context.Context) ([]swapi.Film, error) {
	return FetchAllPages[swapi.Film](ctx, c, swapi.ResourceFilms.Endpoint())
}

// GetPerson returns the character with the given id.
func (c *Client) GetPerson(ctx context.Context, id int) (*swapi.Person, error) {
	return decode[swapi.Person](ctx, c, swapi.ResourcePeople.EntityPath(id))
}

// GetPlanet returns the planet with the given id.
func (c *Client) GetPlanet(ctx context.Context, id int) (*swapi.Planet, error) {
	return decode[swapi.Planet](ctx, c, swapi.ResourcePlanets.EntityPath(id))
}

// GetStarship returns the starship with the given id.
func (c *Client) GetStarship(ctx context.Context, id int) (*swapi.Starship, error) {
	return decode[swapi.Starship](ctx, c, swapi.ResourceStarships.EntityPath(id))
}

// GetSpeciesByID returns the species with the given id.
func (c *Client) GetSpeciesByID(ctx context.Context, id int) (*swapi.Species, error) {
	return decode[swapi.Species](ctx, c, swapi.ResourceSpecies.EntityPath(id))
}

// GetFilm returns the film with the given id.
func (c *Client) GetFilm(ctx context.Context, id int) (*swapi.Film, error) {
	return decode[swapi.Film](ctx, c, swapi.ResourceFilms.EntityPath(id))
}

// Homeworld resolves a character's home planet. It returns nil when the
// character has none.
func (c *Client) Homeworld(ctx context.Context, p swapi.Person) (*swapi.Planet, error) {
	return Resolve[swapi.Planet](ctx, c, p.Homeworld)
}

// FilmsOf resolves a list of film URLs, preserving their order.
func (c *Client) FilmsOf(ctx context.Context, urls []string) ([]*swapi.Film, error) {
	return ResolveMany[swapi.Film](ctx, c, urls)
}
