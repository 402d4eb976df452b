package reconciler

import (
	"github.com/roach88/fleetd/internal/filter"
	"github.com/roach88/fleetd/internal/model"
)

// DeviceSelector names the devices a reconciliation applies to, either
// as an explicit id list or as a filter expression evaluated inside the
// reconciling transaction.
type DeviceSelector struct {
	explicit bool
	ids      []int64
	where    filter.Expr
}

// DeviceIDs selects an explicit set of devices.
func DeviceIDs(ids ...int64) DeviceSelector {
	return DeviceSelector{explicit: true, ids: ids}
}

// DevicesWhere selects the devices matching a filter expression.
func DevicesWhere(where filter.Expr) DeviceSelector {
	return DeviceSelector{where: where}
}

// Empty reports whether the selector is an explicit empty id list,
// which short-circuits reconciliation without touching the database.
func (s DeviceSelector) Empty() bool {
	return s.explicit && len(s.ids) == 0
}

func (s DeviceSelector) expr() filter.Expr {
	if s.explicit {
		return filter.IDIn(s.ids...)
	}
	return s.where
}

// ReleaseSelector names the releases whose services get installed.
type ReleaseSelector struct {
	explicit bool
	id       int64
	where    filter.Expr
}

// ReleaseID selects a single release.
func ReleaseID(id int64) ReleaseSelector {
	return ReleaseSelector{explicit: true, id: id}
}

// ReleasesWhere selects the releases matching a filter expression.
func ReleasesWhere(where filter.Expr) ReleaseSelector {
	return ReleaseSelector{where: where}
}

// serviceExpr builds the filter selecting the services the selected
// releases ship, via the image relation. A service belongs to a release
// exactly when an image links the two.
func (s ReleaseSelector) serviceExpr() filter.Expr {
	var imageWhere filter.Expr
	if s.explicit {
		imageWhere = filter.Eq{Field: "release_id", Value: s.id}
	} else {
		imageWhere = filter.Any{
			Resource: model.ResourceRelease,
			Local:    "release_id",
			Foreign:  "id",
			Where:    s.where,
		}
	}
	return filter.Any{
		Resource: model.ResourceImage,
		Local:    "id",
		Foreign:  "service_id",
		Where:    imageWhere,
	}
}
