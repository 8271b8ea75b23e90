package services

import (
	"gorm.io/gorm"

	"trustgraph/models"
)

// ClosureResolver berechnet die transitive Hülle einer URI über
// SAME_AS-Claims in beide Richtungen.
type ClosureResolver struct {
	DB *gorm.DB
}

// NewClosureResolver erstellt eine neue Instanz des ClosureResolver.
func NewClosureResolver(db *gorm.DB) *ClosureResolver {
	return &ClosureResolver{DB: db}
}

// ClosureOf liefert alle identitätsäquivalenten URIs inklusive der
// Ausgangs-URI, in Entdeckungsreihenfolge. Die Traversierung läuft per
// Hop gegen die Datenbank; das visited-Set terminiert auch bei Zyklen,
// die der Identity Linker durch bidirektionale SAME_AS-Claims erzeugt.
func (r *ClosureResolver) ClosureOf(uri string) ([]string, error) {
	closure := []string{uri}
	member := map[string]bool{uri: true}
	visited := map[string]bool{}
	queue := []string{uri}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		var objects []string
		if err := r.DB.Model(&models.Claim{}).
			Where("subject = ? AND claim = ? AND object <> ''", current, models.PredicateSameAs).
			Pluck("object", &objects).Error; err != nil {
			return nil, err
		}

		var subjects []string
		if err := r.DB.Model(&models.Claim{}).
			Where("object = ? AND claim = ?", current, models.PredicateSameAs).
			Pluck("subject", &subjects).Error; err != nil {
			return nil, err
		}

		for _, next := range append(objects, subjects...) {
			if visited[next] {
				continue
			}
			if !member[next] {
				member[next] = true
				closure = append(closure, next)
			}
			queue = append(queue, next)
		}
	}

	return closure, nil
}
