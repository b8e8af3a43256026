// Package device is the contract between the adapter and a platform BLE stack.
//
// A backend implements Central and Peripheral and reports everything through
// CentralDelegate and PeripheralDelegate on the queue it was given. Requests
// never block and never return errors; outcomes arrive as callbacks.
//
// The package also carries what every backend shares: the peripheral and GATT
// bookkeeping in PeripheralBase, UUID normalization, the error sentinels and
// the decoding of characteristic values.
package device
