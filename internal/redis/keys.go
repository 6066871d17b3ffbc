package redis

const ns = "boxoffice:v1"

func ChannelInventoryChanged() string {
	return ns + ":inventory:changed"
}
