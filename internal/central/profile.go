package central

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/racketlab/sensorfleet/internal/bledb"
)

// Characteristic describes one discovered characteristic.
type Characteristic struct {
	ServiceUUID string // normalized
	UUID        string // normalized
	KnownName   string
	CanRead     bool
	CanNotify   bool
}

// Service describes one discovered service and its characteristics in
// discovery order.
type Service struct {
	UUID      string // normalized
	KnownName string

	chars *orderedmap.OrderedMap[string, *Characteristic]
}

// Characteristics returns the service's characteristics in discovery order.
func (s *Service) Characteristics() []*Characteristic {
	result := make([]*Characteristic, 0, s.chars.Len())
	for pair := s.chars.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Profile is a device's capability descriptor: the service/characteristic
// map resolved once at discovery time with all UUIDs normalized, so later
// lookups are exact map hits instead of repeated string normalization.
type Profile struct {
	services *orderedmap.OrderedMap[string, *Service]
}

// NewProfile creates an empty profile.
func NewProfile() *Profile {
	return &Profile{services: orderedmap.New[string, *Service]()}
}

// AddCharacteristic records a discovered characteristic, creating its
// service on first sight. UUIDs are normalized on the way in.
func (p *Profile) AddCharacteristic(serviceUUID, charUUID string, canRead, canNotify bool) *Characteristic {
	svcUUID := bledb.NormalizeUUID(serviceUUID)
	svc, ok := p.services.Get(svcUUID)
	if !ok {
		svc = &Service{
			UUID:      svcUUID,
			KnownName: bledb.LookupService(svcUUID),
			chars:     orderedmap.New[string, *Characteristic](),
		}
		p.services.Set(svcUUID, svc)
	}

	cUUID := bledb.NormalizeUUID(charUUID)
	ch, ok := svc.chars.Get(cUUID)
	if !ok {
		ch = &Characteristic{
			ServiceUUID: svcUUID,
			UUID:        cUUID,
			KnownName:   bledb.LookupCharacteristic(cUUID),
		}
		svc.chars.Set(cUUID, ch)
	}
	ch.CanRead = ch.CanRead || canRead
	ch.CanNotify = ch.CanNotify || canNotify
	return ch
}

// Services returns the discovered services in discovery order.
func (p *Profile) Services() []*Service {
	result := make([]*Service, 0, p.services.Len())
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, pair.Value)
	}
	return result
}

// Find returns the characteristic for the given service and characteristic
// UUIDs (any accepted form), or nil when the device does not expose it.
func (p *Profile) Find(serviceUUID, charUUID string) *Characteristic {
	svc, ok := p.services.Get(bledb.NormalizeUUID(serviceUUID))
	if !ok {
		return nil
	}
	ch, ok := svc.chars.Get(bledb.NormalizeUUID(charUUID))
	if !ok {
		return nil
	}
	return ch
}

// Has reports whether the device exposes the given characteristic.
func (p *Profile) Has(serviceUUID, charUUID string) bool {
	return p.Find(serviceUUID, charUUID) != nil
}
