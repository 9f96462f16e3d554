package archive

import (
	"sort"

	"github.com/bikesim/market-engine/internal/model"
)

func sortByBalance(ps []model.Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if c := ps[i].Balance.Cmp(ps[j].Balance); c != 0 {
			return c > 0
		}
		return ps[i].ID < ps[j].ID
	})
}
