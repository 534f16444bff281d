package appcontext

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tablecrate/tablecrate/internal/admission"
	"github.com/tablecrate/tablecrate/internal/engine"
	"github.com/tablecrate/tablecrate/internal/hub"
	"github.com/tablecrate/tablecrate/internal/metastore"
	"github.com/tablecrate/tablecrate/internal/publish"
)

type Context struct {
	DB     *gorm.DB
	Logger *zap.Logger

	Session   *engine.Session
	Hub       *hub.Client
	Store     *metastore.Store
	Policy    admission.Policy
	Admission *admission.Controller
	Publisher *publish.Publisher
}
