// Package pricing holds the product catalog and the price points used to
// tell a main-product payment apart from any other.
package pricing

import (
	"fmt"
	"sort"
	"strings"

	"pix-checkout-api/utils"
)

type Product struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Price int    `json:"price"`
	Label string `json:"price_label"`
}

type Catalog struct {
	Base        Product   `json:"base"`
	OrderBumps  []Product `json:"order_bumps"`
	Upsell      Product   `json:"upsell"`
	pricePoints map[int]struct{}
}

var defaultBumps = []struct{ id, title string }{
	{"checklist", "Checklist Ouro: 7 Passos Diários para um Estudo Bíblico Transformador"},
	{"promessas", "Coleção de Promessas Bíblicas Essenciais: Força para Cada Dia"},
	{"parabolas", "Decifrando Parábolas: Lições Essenciais das Histórias de Jesus"},
	{"evangelizar", "Miniguia Prático: Compartilhando Sua Fé Sem Medo"},
	{"caderno", "Meu Caderno de Reflexões Bíblicas: Templates para Anotações"},
	{"glossario", "Glossário Bíblico Descomplicado"},
}

// New builds the catalog. When mainPricePoints is empty the set is every
// base + k*bump for k selected bumps, k = 0..len(bumps).
func New(base, bump, upsell int, mainPricePoints []int) *Catalog {
	c := &Catalog{
		Base:   product("principal", "Desvendando a Bíblia", base),
		Upsell: product("curso-completo", "Curso Completo", upsell),
	}
	for _, b := range defaultBumps {
		c.OrderBumps = append(c.OrderBumps, product(b.id, b.title, bump))
	}

	c.pricePoints = make(map[int]struct{})
	if len(mainPricePoints) > 0 {
		for _, p := range mainPricePoints {
			c.pricePoints[p] = struct{}{}
		}
		return c
	}
	for k := 0; k <= len(c.OrderBumps); k++ {
		c.pricePoints[base+k*bump] = struct{}{}
	}
	return c
}

func product(id, title string, price int) Product {
	return Product{ID: id, Title: title, Price: price, Label: utils.FormatBRL(price)}
}

// IsMainProductPrice reports whether amount is one of the main-product totals.
func (c *Catalog) IsMainProductPrice(amount int) bool {
	_, ok := c.pricePoints[amount]
	return ok
}

// MainPricePoints returns the price-point set in ascending order.
func (c *Catalog) MainPricePoints() []int {
	out := make([]int, 0, len(c.pricePoints))
	for p := range c.pricePoints {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Total prices the main product plus the selected bumps. Unknown bump ids
// are an error.
func (c *Catalog) Total(bumpIDs []string) (int, error) {
	total := c.Base.Price
	seen := make(map[string]bool, len(bumpIDs))
	for _, id := range bumpIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		b, ok := c.bump(id)
		if !ok {
			return 0, fmt.Errorf("unknown order bump %q", id)
		}
		total += b.Price
	}
	return total, nil
}

// Description is the charge description shown by the provider.
func (c *Catalog) Description(bumpIDs []string) string {
	n := 0
	seen := make(map[string]bool, len(bumpIDs))
	for _, id := range bumpIDs {
		if _, ok := c.bump(id); ok && !seen[id] {
			seen[id] = true
			n++
		}
	}
	if n == 0 {
		return c.Base.Title + " - Produto Principal"
	}
	return fmt.Sprintf("%s - Produto Principal + %d Bônus", c.Base.Title, n)
}

// UpsellDescription is the charge description for the upsell product.
func (c *Catalog) UpsellDescription() string {
	return c.Base.Title + " - " + c.Upsell.Title
}

func (c *Catalog) bump(id string) (Product, bool) {
	id = strings.TrimSpace(id)
	for _, b := range c.OrderBumps {
		if b.ID == id {
			return b, true
		}
	}
	return Product{}, false
}

// View is the JSON shape served by the catalog endpoint.
type View struct {
	Base            Product   `json:"base"`
	OrderBumps      []Product `json:"order_bumps"`
	Upsell          Product   `json:"upsell"`
	MainPricePoints []int     `json:"main_price_points"`
}

func (c *Catalog) View() View {
	return View{
		Base:            c.Base,
		OrderBumps:      c.OrderBumps,
		Upsell:          c.Upsell,
		MainPricePoints: c.MainPricePoints(),
	}
}
