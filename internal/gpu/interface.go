package gpu

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// device is the subset of nvml.Device the sensor reads from.
type device interface {
	GetName() (string, nvml.Return)
	GetTemperature(sensor nvml.TemperatureSensors) (uint32, nvml.Return)
	GetFanSpeed_v2(fan int) (uint32, nvml.Return)
	GetPowerUsage() (uint32, nvml.Return)
	GetPowerManagementLimit() (uint32, nvml.Return)
	GetUtilizationRates() (nvml.Utilization, nvml.Return)
	GetMemoryInfo() (nvml.Memory, nvml.Return)
}

// library abstracts NVML operations for testing
type library interface {
	Initialize() error
	Shutdown() error
	GetDevice(index int) (device, error)
	GetDeviceByUUID(uuid string) (device, error)
}

// Metric selects what a GPU sensor reports.
type Metric string

const (
	Temperature Metric = "temperature" // degrees Celsius
	FanSpeed    Metric = "fan_speed"   // percent of maximum
	PowerUsage  Metric = "power_usage" // watts
	PowerLimit  Metric = "power_limit" // watts
	Utilization Metric = "utilization" // percent
	MemoryUsed  Metric = "memory_used" // MiB
)

var metrics = map[Metric]bool{
	Temperature: true,
	FanSpeed:    true,
	PowerUsage:  true,
	PowerLimit:  true,
	Utilization: true,
	MemoryUsed:  true,
}
