package engine

import (
	"github.com/OCharnyshevich/visengine/internal/engine/channel"
	"github.com/OCharnyshevich/visengine/internal/engine/geom"
	"github.com/OCharnyshevich/visengine/internal/engine/scene"
)

// GeometryHandler answers channel rounds from the loaded scenes, standing
// in for the external peer during development. Each entity is reduced to a
// single point bodyHeight above its feet: every requested bone is visible
// when the eye sees that point and hittable when the fire origin has
// ballistic line of sight to it.
func GeometryHandler(m *scene.Manager, bodyHeight float32) channel.Handler {
	return func(req channel.Request, out []channel.Result) {
		for i, e := range req.Entities {
			body := e.Foot.Add(geom.V(0, bodyHeight, 0))
			if m.HasLineOfSight(req.Eye, body, false) {
				out[i].Visible = e.BoneMask
			}
			if m.HasBallisticLineOfSight(req.Fire, body) {
				out[i].Hitscan = e.BoneMask
			}
		}
	}
}
