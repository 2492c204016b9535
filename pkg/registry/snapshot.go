package registry

import "sort"

// Snapshot is a point-in-time view of the registry.
type Snapshot struct {
	Services []ServiceInfo `json:"services"`
	Objects  []ObjectInfo  `json:"objects"`
}

// ServiceInfo describes a registered service.
type ServiceInfo struct {
	ID        string            `json:"id"`
	Classname string            `json:"classname"`
	Outputs   map[string]string `json:"outputs,omitempty"`
}

// ObjectInfo describes a registered object.
type ObjectInfo struct {
	ID        string   `json:"id"`
	Classname string   `json:"classname"`
	Outputs   []string `json:"outputs"`
	Services  []string `json:"services"`
}

// Snapshot returns the registry content.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Services: make([]ServiceInfo, 0, len(r.services)),
		Objects:  make([]ObjectInfo, 0, len(r.objects)),
	}
	for _, svc := range r.servicesLocked() {
		info := ServiceInfo{ID: svc.ID(), Classname: svc.Classname()}
		for _, k := range r.outputKeysLocked(svc.ID()) {
			if info.Outputs == nil {
				info.Outputs = make(map[string]string)
			}
			if obj, ok := r.outputLocked(k); ok {
				info.Outputs[outputName(k.key, k.index)] = obj.ID()
			}
		}
		snap.Services = append(snap.Services, info)
	}

	for id, entry := range r.objects {
		if !entry.obj.alive() {
			continue
		}
		info := ObjectInfo{ID: id, Classname: entry.classname}
		seen := make(map[string]struct{})
		for _, k := range entry.outputs.ToSlice() {
			if e, ok := r.services[k.service]; !ok || !e.svc.alive() {
				continue
			}
			info.Outputs = append(info.Outputs, k.service+"/"+outputName(k.key, k.index))
			if _, ok := seen[k.service]; !ok {
				seen[k.service] = struct{}{}
				info.Services = append(info.Services, k.service)
			}
		}
		if len(info.Outputs) == 0 {
			continue
		}
		sort.Strings(info.Outputs)
		sort.Strings(info.Services)
		snap.Objects = append(snap.Objects, info)
	}
	sort.Slice(snap.Objects, func(i, j int) bool { return snap.Objects[i].ID < snap.Objects[j].ID })
	return snap
}
