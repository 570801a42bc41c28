package scene

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/gekko3d/lightcluster/clusterrt/rt/core"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

const lightsPunctual = "KHR_lights_punctual"

// Intensity at which a light without a declared range is cut off.
const defaultLightCutoff = 0.01

type punctualLights struct {
	Lights []punctualLight `json:"lights"`
}

type punctualLight struct {
	Name      string      `json:"name"`
	Type      string      `json:"type"`
	Color     *[3]float64 `json:"color"`
	Intensity *float64    `json:"intensity"`
	Range     *float64    `json:"range"`
	Spot      *struct {
		InnerConeAngle float64  `json:"innerConeAngle"`
		OuterConeAngle *float64 `json:"outerConeAngle"`
	} `json:"spot"`
}

type punctualNode struct {
	Light *int `json:"light"`
}

// ImportedLight is a punctual light instanced by a glTF node.
type ImportedLight struct {
	Name  string
	Light *core.Light
	World mgl32.Mat4
}

// decodeExtension re-encodes an extension payload so it decodes the same way
// whether the gltf package left it raw or unmarshaled it into a registered type.
func decodeExtension(ext gltf.Extensions, v any) (bool, error) {
	raw, ok := ext[lightsPunctual]
	if !ok || raw == nil {
		return false, nil
	}
	var data []byte
	switch r := raw.(type) {
	case json.RawMessage:
		data = r
	case []byte:
		data = r
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return false, err
		}
		data = b
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

func (p punctualLight) build() (*core.Light, error) {
	color := mgl32.Vec3{1, 1, 1}
	if p.Color != nil {
		color = mgl32.Vec3{float32(p.Color[0]), float32(p.Color[1]), float32(p.Color[2])}
	}
	intensity := float32(1)
	if p.Intensity != nil {
		intensity = float32(*p.Intensity)
	}
	color = color.Mul(intensity)

	var rng float32
	if p.Range != nil && *p.Range > 0 {
		rng = float32(*p.Range)
	} else {
		peak := max(color[0], max(color[1], color[2]))
		rng = max(1, float32(math.Sqrt(float64(peak/defaultLightCutoff))))
	}

	switch p.Type {
	case "point":
		return core.NewPointLight(color, rng), nil
	case "spot":
		inner, outer := float32(0), float32(math.Pi/4)
		if p.Spot != nil {
			inner = float32(p.Spot.InnerConeAngle)
			if p.Spot.OuterConeAngle != nil {
				outer = float32(*p.Spot.OuterConeAngle)
			}
		}
		return core.NewSpotLight(color, rng, inner, outer), nil
	}
	return nil, fmt.Errorf("unsupported light type %q", p.Type)
}

func nodeMatrix(n *gltf.Node) mgl32.Mat4 {
	var identity [16]float64
	identity[0], identity[5], identity[10], identity[15] = 1, 1, 1, 1
	if m := n.MatrixOrDefault(); m != identity {
		var out mgl32.Mat4
		for i := range m {
			out[i] = float32(m[i])
		}
		return out
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	rot := mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}}
	return mgl32.Translate3D(float32(t[0]), float32(t[1]), float32(t[2])).
		Mul4(rot.Mat4()).
		Mul4(mgl32.Scale3D(float32(s[0]), float32(s[1]), float32(s[2])))
}

// LightsFromDocument returns every light node of the default scene (or of every
// root node when there is none) with its world transform.
func LightsFromDocument(doc *gltf.Document) ([]ImportedLight, error) {
	var defs punctualLights
	if _, err := decodeExtension(doc.Extensions, &defs); err != nil {
		return nil, fmt.Errorf("%s: %w", lightsPunctual, err)
	}
	if len(defs.Lights) == 0 {
		return nil, nil
	}

	var roots []int
	if doc.Scene != nil && *doc.Scene < len(doc.Scenes) {
		roots = doc.Scenes[*doc.Scene].Nodes
	} else {
		hasParent := make([]bool, len(doc.Nodes))
		for _, n := range doc.Nodes {
			for _, c := range n.Children {
				if c < len(hasParent) {
					hasParent[c] = true
				}
			}
		}
		for i := range doc.Nodes {
			if !hasParent[i] {
				roots = append(roots, i)
			}
		}
	}

	var out []ImportedLight
	var walk func(idx int, parent mgl32.Mat4, depth int) error
	walk = func(idx int, parent mgl32.Mat4, depth int) error {
		if idx >= len(doc.Nodes) || depth > len(doc.Nodes) {
			return nil
		}
		n := doc.Nodes[idx]
		world := parent.Mul4(nodeMatrix(n))

		var ref punctualNode
		found, err := decodeExtension(n.Extensions, &ref)
		if err != nil {
			return fmt.Errorf("node %d: %w", idx, err)
		}
		if found && ref.Light != nil {
			if *ref.Light < 0 || *ref.Light >= len(defs.Lights) {
				return fmt.Errorf("node %d: light index %d out of range", idx, *ref.Light)
			}
			def := defs.Lights[*ref.Light]
			l, err := def.build()
			if err != nil {
				return fmt.Errorf("node %d: %w", idx, err)
			}
			name := def.Name
			if name == "" {
				name = n.Name
			}
			out = append(out, ImportedLight{Name: name, Light: l, World: world})
		}
		for _, c := range n.Children {
			if err := walk(c, world, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := walk(root, mgl32.Ident4(), 0); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// LoadGLTFLights imports the punctual lights of a glTF file into the registry.
func (r *Registry) LoadGLTFLights(path string) ([]LightID, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gltf open %q: %w", path, err)
	}
	lights, err := LightsFromDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("gltf %q: %w", path, err)
	}
	ids := make([]LightID, 0, len(lights))
	for _, l := range lights {
		ids = append(ids, r.AddLight(l.Light, l.World))
	}
	return ids, nil
}
